package access

import (
	"context"
	"testing"
)

// memberFunc — проверка членства из функции (для тестов политики).
type memberFunc func(email string) bool

func (f memberFunc) IsMember(_ context.Context, email string) bool { return f(email) }

// TestPolicy_AllowList проверяет режим явного allow-list.
func TestPolicy_AllowList(t *testing.T) {
	p := NewPolicy([]string{"alice@example.com", "Bob@Example.com"}, "", nil)

	if !p.IsAllowed(context.Background(), "alice@example.com") {
		t.Error("alice@example.com должна быть допущена")
	}
	if !p.IsAllowed(context.Background(), "BOB@example.com") {
		t.Error("адрес из allow-list должен сравниваться без учёта регистра")
	}
	if p.IsAllowed(context.Background(), "mallory@example.com") {
		t.Error("mallory@example.com не должна быть допущена")
	}
}

// TestPolicy_AllowListExclusive проверяет, что при заданном allow-list
// домен и группа не проверяются даже для непопавшего адреса.
func TestPolicy_AllowListExclusive(t *testing.T) {
	group := memberFunc(func(string) bool {
		t.Error("группа не должна проверяться при заданном allow-list")
		return true
	})
	p := NewPolicy([]string{"alice@example.com"}, "example.com", group)

	// bob входит и в домен, и в «группу», но allow-list исключителен
	if p.IsAllowed(context.Background(), "bob@example.com") {
		t.Error("адрес вне allow-list должен отклоняться без отката на домен")
	}
}

// TestPolicy_Domain проверяет режим домена.
func TestPolicy_Domain(t *testing.T) {
	p := NewPolicy(nil, "example.com", nil)

	if !p.IsAllowed(context.Background(), "anyone@example.com") {
		t.Error("пользователь домена должен быть допущен")
	}
	if p.IsAllowed(context.Background(), "anyone@other.com") {
		t.Error("пользователь чужого домена не должен быть допущен")
	}
	// Суффиксная проверка не должна пропускать поддомены-обманки
	if p.IsAllowed(context.Background(), "anyone@evilexample.com") {
		t.Error("домен должен сравниваться целиком, не как суффикс строки")
	}
}

// TestPolicy_DomainLeadingAt проверяет нормализацию домена с ведущим @.
func TestPolicy_DomainLeadingAt(t *testing.T) {
	p := NewPolicy(nil, "@Example.com", nil)

	if !p.IsAllowed(context.Background(), "user@example.com") {
		t.Error("домен с ведущим @ должен нормализоваться")
	}
}

// TestPolicy_Group проверяет режим группы.
func TestPolicy_Group(t *testing.T) {
	group := memberFunc(func(email string) bool { return email == "member@example.com" })
	p := NewPolicy(nil, "", group)

	if !p.IsAllowed(context.Background(), "member@example.com") {
		t.Error("участник группы должен быть допущен")
	}
	if p.IsAllowed(context.Background(), "outsider@example.com") {
		t.Error("не-участник группы не должен быть допущен")
	}
}

// TestPolicy_DomainOverGroup проверяет приоритет домена над группой.
func TestPolicy_DomainOverGroup(t *testing.T) {
	group := memberFunc(func(string) bool {
		t.Error("группа не должна проверяться при заданном домене")
		return true
	})
	p := NewPolicy(nil, "example.com", group)

	if p.IsAllowed(context.Background(), "member@other.com") {
		t.Error("вне домена — отказ без проверки группы")
	}
}

// TestPolicy_NothingConfigured проверяет deny by default.
func TestPolicy_NothingConfigured(t *testing.T) {
	p := NewPolicy(nil, "", nil)

	if p.IsAllowed(context.Background(), "anyone@example.com") {
		t.Error("ненастроенная политика должна отклонять всех")
	}
}

// TestPolicy_EmptyEmail проверяет отказ для пустого адреса во всех режимах.
func TestPolicy_EmptyEmail(t *testing.T) {
	policies := map[string]*Policy{
		"allow-list": NewPolicy([]string{"a@b.c"}, "", nil),
		"домен":      NewPolicy(nil, "example.com", nil),
		"группа":     NewPolicy(nil, "", memberFunc(func(string) bool { return true })),
	}

	for name, p := range policies {
		if p.IsAllowed(context.Background(), "") {
			t.Errorf("режим %s: пустой email должен отклоняться", name)
		}
		if p.IsAllowed(context.Background(), "   ") {
			t.Errorf("режим %s: пробельный email должен отклоняться", name)
		}
	}
}

// TestNormalizeEmail проверяет нормализацию адресов.
func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  User@Example.COM "); got != "user@example.com" {
		t.Errorf("ожидалось user@example.com, получено %q", got)
	}
}
