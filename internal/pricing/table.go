// Package pricing реализует прайс биллинга: стоимость функций в монетах,
// тарифы подписки, пакеты пополнения и дополнения.
//
// Таблица загружается из YAML, проверяется и после этого не меняется:
// все методы только читают её и безопасны для параллельного вызова.
// Чтобы сменить прайс, загружают новую версию таблицы и явно передают её сервисам.
package pricing

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// GrantKind — что получает пользователь за покупку SKU.
type GrantKind string

const (
	// GrantCoins — монеты на подписочный пул (пополнение или дополнение).
	GrantCoins GrantKind = "coins"
	// GrantPlan — активация или продление тарифа.
	GrantPlan GrantKind = "plan"
)

// Grant — результат разрешения SKU.
type Grant struct {
	SKU   string      `json:"sku"`
	Kind  GrantKind   `json:"kind"`
	Plan  models.Plan `json:"plan,omitempty"`
	Price int64       `json:"price"`
	Coins int64       `json:"coins"`
}

// PlanOffer — тариф в прайсе.
type PlanOffer struct {
	SKU         string      `yaml:"sku" json:"sku"`
	Plan        models.Plan `yaml:"plan" json:"plan"`
	Price       int64       `yaml:"price" json:"price"`
	Coins       int64       `yaml:"coins" json:"coins"`
	Recommended bool        `yaml:"recommended" json:"recommended"`
}

// Package — пакет монет (пополнение или дополнение).
type Package struct {
	SKU   string `yaml:"sku" json:"sku"`
	Price int64  `yaml:"price" json:"price"`
	Coins int64  `yaml:"coins" json:"coins"`
}

// File — формат YAML-файла прайса.
type File struct {
	Version    string                      `yaml:"version" env-required:"true"`
	PlanPeriod time.Duration               `yaml:"plan_period" env-default:"720h"`
	Features   map[string]map[string]int64 `yaml:"features"`
	Plans      []PlanOffer                 `yaml:"plans"`
	TopUps     []Package                   `yaml:"topups"`
	Addons     []Package                   `yaml:"addons"`
}

// Table — неизменяемая версия прайса.
type Table struct {
	version    string
	planPeriod time.Duration
	features   map[string]map[models.Quality]int64
	plans      map[models.Plan]PlanOffer
	planOrder  []models.Plan
	skus       map[string]Grant
	topups     []Package
	addons     []Package
}

// Load читает прайс из YAML-файла.
func Load(path string) (*Table, error) {
	const op = "pricing.Load"
	var f File
	if err := cleanenv.ReadConfig(path, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t, err := New(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// New проверяет описание прайса и строит из него неизменяемую таблицу.
func New(f File) (*Table, error) {
	if f.Version == "" {
		return nil, fmt.Errorf("%w: empty price table version", billing.ErrInvalidArgument)
	}
	if f.PlanPeriod <= 0 {
		return nil, fmt.Errorf("%w: plan period must be positive", billing.ErrInvalidArgument)
	}

	t := &Table{
		version:    f.Version,
		planPeriod: f.PlanPeriod,
		features:   make(map[string]map[models.Quality]int64, len(f.Features)),
		plans:      make(map[models.Plan]PlanOffer, len(f.Plans)),
		skus:       make(map[string]Grant),
		topups:     slices.Clone(f.TopUps),
		addons:     slices.Clone(f.Addons),
	}

	for feature, costs := range f.Features {
		byQuality := make(map[models.Quality]int64, len(costs))
		for quality, cost := range costs {
			if cost <= 0 {
				return nil, fmt.Errorf("%w: cost of %s/%s must be positive", billing.ErrInvalidArgument, feature, quality)
			}
			byQuality[models.Quality(quality)] = cost
		}
		t.features[feature] = byQuality
	}

	addSKU := func(g Grant) error {
		if g.SKU == "" {
			return fmt.Errorf("%w: empty sku", billing.ErrInvalidArgument)
		}
		if g.Coins < 0 || g.Price < 0 {
			return fmt.Errorf("%w: negative price or coins for sku %s", billing.ErrInvalidArgument, g.SKU)
		}
		if _, dup := t.skus[g.SKU]; dup {
			return fmt.Errorf("%w: duplicate sku %s", billing.ErrInvalidArgument, g.SKU)
		}
		t.skus[g.SKU] = g
		return nil
	}

	for _, p := range f.Plans {
		if !p.Plan.Valid() || p.Plan == models.PlanNone {
			return nil, fmt.Errorf("%w: %q", billing.ErrUnknownPlan, p.Plan)
		}
		if _, dup := t.plans[p.Plan]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %s", billing.ErrInvalidArgument, p.Plan)
		}
		t.plans[p.Plan] = p
		t.planOrder = append(t.planOrder, p.Plan)
		if err := addSKU(Grant{SKU: p.SKU, Kind: GrantPlan, Plan: p.Plan, Price: p.Price, Coins: p.Coins}); err != nil {
			return nil, err
		}
	}
	for _, p := range append(slices.Clone(f.TopUps), f.Addons...) {
		if p.Coins <= 0 {
			return nil, fmt.Errorf("%w: package %s grants no coins", billing.ErrInvalidArgument, p.SKU)
		}
		if err := addSKU(Grant{SKU: p.SKU, Kind: GrantCoins, Price: p.Price, Coins: p.Coins}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Version возвращает версию прайса.
func (t *Table) Version() string { return t.version }

// PlanPeriod возвращает длительность одного периода подписки.
func (t *Table) PlanPeriod() time.Duration { return t.planPeriod }

// Cost возвращает стоимость функции в монетах.
func (t *Table) Cost(feature string, quality models.Quality) (int64, error) {
	cost, ok := t.features[feature][quality]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", billing.ErrUnknownFeature, feature, quality)
	}
	return cost, nil
}

// ResolveSKU возвращает, что даёт покупка SKU.
func (t *Table) ResolveSKU(sku string) (Grant, error) {
	g, ok := t.skus[sku]
	if !ok {
		return Grant{}, fmt.Errorf("%w: %s", billing.ErrUnknownSKU, sku)
	}
	return g, nil
}

// Plan возвращает описание тарифа.
func (t *Table) Plan(plan models.Plan) (PlanOffer, error) {
	p, ok := t.plans[plan]
	if !ok {
		return PlanOffer{}, fmt.Errorf("%w: %s", billing.ErrUnknownPlan, plan)
	}
	return p, nil
}

// Catalog — прайс в виде, пригодном для показа пользователю.
type Catalog struct {
	Version  string                     `json:"version"`
	Plans    []PlanOffer                `json:"plans"`
	TopUps   []Package                  `json:"topups"`
	Addons   []Package                  `json:"addons"`
	Features map[string]map[string]int64 `json:"features"`
}

// Catalog возвращает копию прайса; изменения копии не влияют на таблицу.
func (t *Table) Catalog() Catalog {
	c := Catalog{
		Version:  t.version,
		Plans:    make([]PlanOffer, 0, len(t.planOrder)),
		TopUps:   slices.Clone(t.topups),
		Addons:   slices.Clone(t.addons),
		Features: make(map[string]map[string]int64, len(t.features)),
	}
	for _, p := range t.planOrder {
		c.Plans = append(c.Plans, t.plans[p])
	}
	for feature, costs := range t.features {
		m := make(map[string]int64, len(costs))
		for q, cost := range costs {
			m[string(q)] = cost
		}
		c.Features[feature] = m
	}
	return c
}

// Features возвращает отсортированный список функций прайса.
func (t *Table) Features() []string {
	return slices.Sorted(maps.Keys(t.features))
}
