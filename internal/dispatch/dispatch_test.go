package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"whatsched/internal/domain"
	"whatsched/internal/message"
	"whatsched/internal/storage"
	logx "whatsched/pkg/logx"
)

type stubSelector struct{ err error }

func (s stubSelector) Select(ctx context.Context, category string) (message.Message, error) {
	if s.err != nil {
		return message.Message{}, s.err
	}
	return message.Message{Category: category, Text: "text for " + category}, nil
}

type recordingSession struct {
	failFor map[string]error

	mu   sync.Mutex
	sent []string
}

func (r *recordingSession) Deliver(ctx context.Context, address string, msg message.Message) error {
	if err := r.failFor[address]; err != nil {
		return err
	}
	r.mu.Lock()
	r.sent = append(r.sent, address)
	r.mu.Unlock()
	return nil
}

func TestFanoutIsolatesFailures(t *testing.T) {
	t.Parallel()
	sess := &recordingSession{failFor: map[string]error{"A": &domain.DeliveryError{Address: "A", Err: errors.New("unknown number")}}}
	act := New(stubSelector{}, sess, nil, logx.Nop())

	a := domain.Recipient{ID: 1, Name: "a", Kind: domain.KindIndividual, Address: "A"}
	b := domain.Recipient{ID: 2, Name: "b", Kind: domain.KindIndividual, Address: "B"}
	results, err := act.Fanout(context.Background(), []domain.Recipient{a, b}, "quote")
	if err != nil {
		t.Fatalf("Fanout: %v", err)
	}
	if len(results) != 2 || results[0].OK() || !results[1].OK() {
		t.Fatalf("results = %+v", results)
	}
	if len(sess.sent) != 1 || sess.sent[0] != "B" {
		t.Fatalf("sent = %v, want [B]", sess.sent)
	}
	if Failed(results) != 1 {
		t.Fatalf("Failed = %d", Failed(results))
	}
}

func TestFanoutExpandsGroups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	alice, _ := st.AddFriend(ctx, "Alice", "+1")
	bob, _ := st.AddFriend(ctx, "Bob", "+2")
	fam, _ := st.AddGroup(ctx, "family", "")
	chat, _ := st.AddGroup(ctx, "club", "club@g.us")
	_ = st.AddGroupMember(ctx, fam.ID, alice.ID)
	_ = st.AddGroupMember(ctx, fam.ID, bob.ID)

	sess := &recordingSession{}
	act := New(stubSelector{}, sess, st, logx.Nop())
	results, err := act.Fanout(ctx, []domain.Recipient{fam, chat, alice}, "verse")
	if err != nil {
		t.Fatalf("Fanout: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3 (alice deduplicated)", len(results))
	}
	want := []string{"+1", "+2", "club@g.us"}
	for i, w := range want {
		if sess.sent[i] != w {
			t.Fatalf("sent = %v, want %v", sess.sent, want)
		}
	}
}

func TestSendSurfacesSelectorError(t *testing.T) {
	t.Parallel()
	nf := &domain.NotFoundError{What: "template", Key: "hadith"}
	act := New(stubSelector{err: nf}, &recordingSession{}, nil, logx.Nop())
	err := act.Send(context.Background(), domain.Recipient{Name: "a", Address: "A"}, "hadith")
	if !domain.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestFanoutStopsOnCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := &recordingSession{}
	act := New(stubSelector{}, sess, nil, logx.Nop())
	results, err := act.Fanout(ctx, []domain.Recipient{{Name: "a", Address: "A"}}, "quote")
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(results[0].Err, context.Canceled) || len(sess.sent) != 0 {
		t.Fatalf("results = %+v sent = %v", results, sess.sent)
	}
}

type flakyMembers struct {
	failFor map[int64]error
	members map[int64][]domain.Recipient
}

func (f flakyMembers) GroupMembers(ctx context.Context, groupID int64) ([]domain.Recipient, error) {
	if err := f.failFor[groupID]; err != nil {
		return nil, err
	}
	return f.members[groupID], nil
}

func TestFanoutContinuesPastFailedGroupExpansion(t *testing.T) {
	t.Parallel()
	members := flakyMembers{failFor: map[int64]error{1: errors.New("database is locked")}}
	sess := &recordingSession{}
	act := New(stubSelector{}, sess, members, logx.Nop())

	g1 := domain.Recipient{ID: 1, Name: "G1", Kind: domain.KindGroup}
	b := domain.Recipient{ID: 2, Name: "b", Kind: domain.KindIndividual, Address: "+2"}
	results, err := act.Fanout(context.Background(), []domain.Recipient{g1, b}, "quote")
	if err != nil {
		t.Fatalf("Fanout: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v, want one per recipient", results)
	}
	if results[0].Recipient.Name != "G1" || results[0].OK() {
		t.Fatalf("group result = %+v, want failure", results[0])
	}
	if !results[1].OK() || len(sess.sent) != 1 || sess.sent[0] != "+2" {
		t.Fatalf("b not delivered: results = %+v sent = %v", results, sess.sent)
	}
}

func TestFanoutReportsEmptyGroup(t *testing.T) {
	t.Parallel()
	sess := &recordingSession{}
	act := New(stubSelector{}, sess, flakyMembers{}, logx.Nop())

	empty := domain.Recipient{ID: 7, Name: "nobody", Kind: domain.KindGroup}
	results, err := act.Fanout(context.Background(), []domain.Recipient{empty}, "quote")
	if err != nil {
		t.Fatalf("Fanout: %v", err)
	}
	if len(results) != 1 || !domain.IsNotFound(results[0].Err) || Failed(results) != 1 {
		t.Fatalf("results = %+v, want one NotFoundError", results)
	}
	if len(sess.sent) != 0 {
		t.Fatalf("sent = %v", sess.sent)
	}
}

func TestFanoutWithoutMemberSource(t *testing.T) {
	t.Parallel()
	sess := &recordingSession{}
	act := New(stubSelector{}, sess, nil, logx.Nop())
	g := domain.Recipient{ID: 3, Name: "fam", Kind: domain.KindGroup}
	b := domain.Recipient{ID: 4, Name: "b", Kind: domain.KindIndividual, Address: "+4"}
	results, _ := act.Fanout(context.Background(), []domain.Recipient{g, b}, "quote")
	if len(results) != 2 || results[0].OK() || !results[1].OK() {
		t.Fatalf("results = %+v", results)
	}
}
