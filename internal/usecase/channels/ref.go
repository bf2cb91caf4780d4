package channels

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var ErrRefInvalid = errors.New("некорректная ссылка на канал")

var (
	aliasRegex = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/|t\.me/)?([a-z0-9_]{5,})/?$`)
	idRegex    = regexp.MustCompile(`^-?\d+$`)
)

// Ref хранит разобранную ссылку на канал: алиас или числовой id.
type Ref struct {
	Alias string
	ID    int64
}

// Key возвращает ключ канала в журнале.
func (r Ref) Key() string {
	if r.Alias != "" {
		return r.Alias
	}
	return strconv.FormatInt(r.ID, 10)
}

// ParseRef приводит ввод пользователя к каноничной ссылке.
// Поддерживаются @alias, t.me/alias, https://t.me/alias, alias и числовой id (-100…).
func ParseRef(input string) (Ref, error) {
	trim := strings.TrimSpace(input)
	if idRegex.MatchString(trim) {
		id, err := strconv.ParseInt(trim, 10, 64)
		if err != nil || id == 0 {
			return Ref{}, ErrRefInvalid
		}
		return Ref{ID: id}, nil
	}
	matches := aliasRegex.FindStringSubmatch(trim)
	if len(matches) < 2 {
		return Ref{}, ErrRefInvalid
	}
	return Ref{Alias: strings.ToLower(matches[1])}, nil
}
