package history

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

const cursorPrefix = "seq:"

var errBadCursor = errors.New("malformed cursor")

// EncodeCursor упаковывает позицию в журнале в непрозрачную строку для клиента.
func EncodeCursor(c storage.Cursor) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(c.Seq, 10)))
}

// DecodeCursor разбирает строку, выданную EncodeCursor.
func DecodeCursor(s string) (*storage.Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errBadCursor
	}
	n, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return nil, errBadCursor
	}
	seq, err := strconv.ParseInt(n, 10, 64)
	if err != nil || seq <= 0 {
		return nil, errBadCursor
	}
	return &storage.Cursor{Seq: seq}, nil
}
