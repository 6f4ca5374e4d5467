package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorPredicatesSeeThroughWrapping(t *testing.T) {
	t.Parallel()
	nf := fmt.Errorf("select: %w", &NotFoundError{What: "template", Key: "quote"})
	lost := fmt.Errorf("send: %w", &DeliveryError{Address: "123", Lost: true, Err: errors.New("eof")})
	sched := fmt.Errorf("submit: %w", &SchedulingError{Spec: "yearly", Reason: "unknown kind"})

	if !IsNotFound(nf) || IsNotFound(lost) {
		t.Fatal("IsNotFound mismatch")
	}
	if !IsSessionLost(lost) || IsSessionLost(&DeliveryError{Err: errors.New("x")}) {
		t.Fatal("IsSessionLost mismatch")
	}
	if !IsScheduling(sched) || IsScheduling(nf) {
		t.Fatal("IsScheduling mismatch")
	}
	if got := nf.Error(); got != `select: template "quote" not found` {
		t.Fatalf("message = %q", got)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	cases := map[string]Kind{"friend": KindIndividual, "Group": KindGroup, " individual ": KindIndividual}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseKind("channel"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
