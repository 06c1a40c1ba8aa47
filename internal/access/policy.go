// Пакет access — политика доступа Pinboard: кто может пользоваться приложением.
//
// Приоритет режимов (строгий, без объединения):
//  1. Allow-list — только перечисленные адреса
//  2. Домен — любой адрес вида *@домен
//  3. Google-группа — участники группы (через GroupCache)
//  4. Ничего не настроено — deny by default (fail closed)
//
// Вычисляется только первый настроенный режим: при одновременно заданных
// allow-list и домене домен игнорируется.
package access

import (
	"context"
	"strings"
)

// GroupChecker — проверка членства в группе (реализуется GroupCache).
type GroupChecker interface {
	IsMember(ctx context.Context, email string) bool
}

// Policy — политика доступа процесса. Загружается один раз при старте
// и далее не изменяется.
type Policy struct {
	allowed map[string]struct{}
	domain  string
	group   GroupChecker
}

// NewPolicy создаёт политику доступа.
// allowedEmails — явный allow-list (уже нормализованные адреса);
// domain — домен без ведущего @ (пустая строка = не настроен);
// group — проверка членства в группе (nil = не настроена).
func NewPolicy(allowedEmails []string, domain string, group GroupChecker) *Policy {
	var allowed map[string]struct{}
	if len(allowedEmails) > 0 {
		allowed = make(map[string]struct{}, len(allowedEmails))
		for _, e := range allowedEmails {
			e = NormalizeEmail(e)
			if e != "" {
				allowed[e] = struct{}{}
			}
		}
	}

	return &Policy{
		allowed: allowed,
		domain:  strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "@"),
		group:   group,
	}
}

// IsAllowed сообщает, допущен ли пользователь с указанным email.
// Пустой email всегда запрещён.
func (p *Policy) IsAllowed(ctx context.Context, email string) bool {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return false
	}

	// 1. Allow-list — исключительный: при непопадании досрочный отказ,
	// без отката на проверку домена.
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalized]
		return ok
	}

	// 2. Домен
	if p.domain != "" {
		return strings.HasSuffix(normalized, "@"+p.domain)
	}

	// 3. Google-группа
	if p.group != nil {
		return p.group.IsMember(ctx, normalized)
	}

	// 4. Политика не настроена — deny by default
	return false
}

// NormalizeEmail приводит адрес к каноническому виду: trim + lowercase.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
