package workerproc

import (
	"context"
	"errors"
	"testing"

	"disclosure-backend/internal/queue"
)

type stubStructurer struct {
	ids []string
	err error
}

func (s *stubStructurer) StructureDocument(ctx context.Context, documentID string) error {
	s.ids = append(s.ids, documentID)
	return s.err
}

type stubComparer struct {
	ids []string
	err error
}

func (s *stubComparer) RunComparison(ctx context.Context, comparisonID string) error {
	s.ids = append(s.ids, comparisonID)
	return s.err
}

func TestParseMessage(t *testing.T) {
	msg, meta, err := ParseMessage(`{"kind":"structure","documentId":"doc-1","requestId":"req-1"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Kind != queue.KindStructure || msg.DocumentID != "doc-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if meta.BodyLen == 0 || meta.BodySHA == "" {
		t.Fatalf("meta must be populated: %+v", meta)
	}
}

func TestParseMessageTypedErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want any
	}{
		{"empty", "   ", &ErrEmptyBody{}},
		{"not json", "{broken", &ErrDecode{}},
		{"missing id", `{"kind":"structure"}`, &ErrInvalidMessage{}},
		{"unknown kind", `{"kind":"reindex","documentId":"d"}`, &ErrInvalidMessage{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseMessage(tc.body)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.As(err, tc.want) {
				t.Fatalf("error %T does not match %T", err, tc.want)
			}
			if !Unrecoverable(err) {
				t.Fatalf("parse failures must be unrecoverable")
			}
		})
	}
}

func TestProcessorDispatch(t *testing.T) {
	structurer := &stubStructurer{}
	comparer := &stubComparer{}
	p := &Processor{Structuring: structurer, Comparisons: comparer}
	ctx := context.Background()

	if err := p.Handle(ctx, queue.Message{Kind: queue.KindStructure, DocumentID: "doc-1"}); err != nil {
		t.Fatalf("handle structure: %v", err)
	}
	if err := p.Handle(ctx, queue.Message{Kind: queue.KindCompare, ComparisonID: "cmp-1"}); err != nil {
		t.Fatalf("handle compare: %v", err)
	}
	if len(structurer.ids) != 1 || structurer.ids[0] != "doc-1" {
		t.Fatalf("structurer calls = %v", structurer.ids)
	}
	if len(comparer.ids) != 1 || comparer.ids[0] != "cmp-1" {
		t.Fatalf("comparer calls = %v", comparer.ids)
	}
}

func TestProcessorWrapsFailures(t *testing.T) {
	cause := errors.New("pipeline broke")
	p := &Processor{Structuring: &stubStructurer{err: cause}, Comparisons: &stubComparer{}}

	err := p.Handle(context.Background(), queue.Message{Kind: queue.KindStructure, DocumentID: "doc-1", RequestID: "req-9"})
	var perr ErrProcess
	if !errors.As(err, &perr) {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if perr.TargetID != "doc-1" || perr.RequestID != "req-9" {
		t.Fatalf("unexpected wrapper %+v", perr)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause must be reachable via Unwrap")
	}
	if Unrecoverable(err) {
		t.Fatalf("processing failures are retryable")
	}
}

func TestHandleBody(t *testing.T) {
	comparer := &stubComparer{}
	p := &Processor{Structuring: &stubStructurer{}, Comparisons: comparer}

	body := `{"kind":"compare","comparisonId":"cmp-2","requestId":"req-1"}`
	if err := p.HandleBody(context.Background(), body); err != nil {
		t.Fatalf("handle body: %v", err)
	}
	if len(comparer.ids) != 1 || comparer.ids[0] != "cmp-2" {
		t.Fatalf("comparer calls = %v", comparer.ids)
	}
}
