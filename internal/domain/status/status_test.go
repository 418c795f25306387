package status

import (
	"errors"
	"testing"
)

// TestParse проверяет разбор статусов из строки.
func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"Pending", Pending, false},
		{"Uploaded", Uploaded, false},
		{"Published", Published, false},
		{"Timeout", Timeout, false},
		{"Expired", Expired, false},
		{"Error", Error, false},
		{"pending", "", true},
		{"", "", true},
		{"Deleted", "", true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): ожидалась ошибка", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): неожиданная ошибка: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, ожидался %q", tt.in, got, tt.want)
		}
	}
}

// TestTransitions_Exhaustive проверяет всю матрицу переходов 6×6.
func TestTransitions_Exhaustive(t *testing.T) {
	allowed := map[[2]Status]bool{
		{Pending, Uploaded}:   true,
		{Pending, Timeout}:    true,
		{Pending, Error}:      true,
		{Uploaded, Published}: true,
		{Uploaded, Expired}:   true,
		{Uploaded, Error}:     true,
	}

	for _, from := range All {
		for _, to := range All {
			want := allowed[[2]Status{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s → %s: CanTransitionTo = %v, ожидалось %v", from, to, got, want)
			}

			err := ValidateTransition(from, to)
			if want && err != nil {
				t.Errorf("%s → %s: неожиданная ошибка: %v", from, to, err)
			}
			if !want {
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Errorf("%s → %s: ожидалась TransitionError, получено %v", from, to, err)
					continue
				}
				if te.Code != "INVALID_TRANSITION" {
					t.Errorf("%s → %s: ожидался код INVALID_TRANSITION, получен %q", from, to, te.Code)
				}
			}
		}
	}
}

// TestTerminal проверяет конечные статусы.
func TestTerminal(t *testing.T) {
	terminal := map[Status]bool{
		Published: true, Timeout: true, Expired: true, Error: true,
	}
	for _, s := range All {
		if s.IsTerminal() != terminal[s] {
			t.Errorf("%s.IsTerminal() = %v, ожидалось %v", s, s.IsTerminal(), terminal[s])
		}
	}
	if Status("unknown").IsTerminal() {
		t.Error("неизвестный статус не должен быть конечным")
	}
}

// TestValidateTransition_InvalidStatus проверяет код INVALID_STATUS.
func TestValidateTransition_InvalidStatus(t *testing.T) {
	err := ValidateTransition("bogus", Uploaded)
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != "INVALID_STATUS" {
		t.Errorf("ожидался INVALID_STATUS, получено %v", err)
	}

	err = ValidateTransition(Pending, "bogus")
	if !errors.As(err, &te) || te.Code != "INVALID_STATUS" {
		t.Errorf("ожидался INVALID_STATUS, получено %v", err)
	}
}
