package auth

import (
	"context"
	"testing"
)

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()

	if got := PrincipalFromContext(ctx); got != nil {
		t.Errorf("PrincipalFromContext() on empty context = %v, want nil", got)
	}
	if got := SubjectFromContext(ctx); got != "" {
		t.Errorf("SubjectFromContext() on empty context = %q, want empty", got)
	}

	ctx = WithPrincipal(ctx, &Principal{Subject: "user123", Roles: []string{"hr-read"}})

	got := PrincipalFromContext(ctx)
	if got == nil {
		t.Fatal("PrincipalFromContext() = nil, want principal")
	}
	if got.Subject != "user123" {
		t.Errorf("Subject = %v, want user123", got.Subject)
	}
	if SubjectFromContext(ctx) != "user123" {
		t.Errorf("SubjectFromContext() = %q, want user123", SubjectFromContext(ctx))
	}
}
