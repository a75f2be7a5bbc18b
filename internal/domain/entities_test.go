package domain

import (
	"testing"
	"time"
)

func TestPreferencesInterests(t *testing.T) {
	prefs := UserPreferences{NormalizedJSON: []byte(`[{"name": "chess", "category": "games", "tags": ["chess"]}]`)}
	interests, err := prefs.Interests()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(interests) != 1 || interests[0].Name != "chess" {
		t.Fatalf("интересы разобраны неверно: %+v", interests)
	}
}

func TestPreferencesInterestsEmpty(t *testing.T) {
	interests, err := (UserPreferences{}).Interests()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if interests != nil {
		t.Fatalf("пустой JSON даёт nil")
	}
}

func TestPreferencesInterestsBrokenJSON(t *testing.T) {
	prefs := UserPreferences{NormalizedJSON: []byte("{")}
	if _, err := prefs.Interests(); err == nil {
		t.Fatalf("ожидали ошибку разбора")
	}
}

func TestInviteAccepted(t *testing.T) {
	if (Invite{}).Accepted() {
		t.Fatalf("новое приглашение не принято")
	}
	now := time.Now()
	if !(Invite{AcceptedAt: &now}).Accepted() {
		t.Fatalf("приглашение с датой принятия считается принятым")
	}
}
