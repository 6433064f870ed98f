package normalizer

import (
	"errors"
	"testing"
)

func TestNormalizeKnownSynonyms(t *testing.T) {
	n := New(DefaultSynonyms())

	tests := []struct {
		in   string
		want Status
	}{
		{in: "successful", want: StatusSucceeded},
		{in: "succeeded", want: StatusSucceeded},
		{in: "success", want: StatusSucceeded},
		{in: "completed", want: StatusSucceeded},
		{in: "processed", want: StatusSucceeded},
		{in: "captured", want: StatusSucceeded},
		{in: "успешно", want: StatusSucceeded},
		{in: "refund", want: StatusRefunded},
		{in: "refunded", want: StatusRefunded},
		{in: "частичный возврат", want: StatusRefunded},
		{in: "cancel", want: StatusCanceled},
		{in: "cancelled", want: StatusCanceled},
		{in: "canceled", want: StatusCanceled},
		{in: "void", want: StatusCanceled},
		{in: "voided", want: StatusCanceled},
		{in: "authorization_void", want: StatusCanceled},
		{in: "отмена", want: StatusCanceled},
		{in: "failed", want: StatusFailed},
		{in: "declined", want: StatusFailed},
		{in: "expired", want: StatusFailed},
		{in: "incomplete", want: StatusFailed},
		{in: "error", want: StatusFailed},
		{in: "отклонено", want: StatusFailed},
		{in: "pending", want: StatusPending},
		{in: "processing", want: StatusPending},
		{in: "в обработке", want: StatusPending},
	}

	for _, tt := range tests {
		got, ok := n.Normalize(tt.in)
		if !ok || got != tt.want {
			t.Fatalf("Normalize(%q) = (%q, %t), want (%q, true)", tt.in, got, ok, tt.want)
		}
	}
}

func TestNormalizeCasingAndWhitespace(t *testing.T) {
	n := New(DefaultSynonyms())

	for _, in := range []string{"  SUCCESSFUL  ", "Succeeded", "\tsuccess\n", "COMPLETED"} {
		got, ok := n.Normalize(in)
		if !ok || got != StatusSucceeded {
			t.Fatalf("Normalize(%q) = (%q, %t), want succeeded", in, got, ok)
		}
	}
}

func TestNormalizeSubstringContainment(t *testing.T) {
	n := New(DefaultSynonyms())

	tests := []struct {
		in   string
		want Status
	}{
		{in: "my_successful_payment", want: StatusSucceeded},
		{in: "payment.refund.created", want: StatusRefunded},
		{in: "successful refund", want: StatusRefunded},
		{in: "charge_declined_by_issuer", want: StatusFailed},
	}

	for _, tt := range tests {
		got, ok := n.Normalize(tt.in)
		if !ok || got != tt.want {
			t.Fatalf("Normalize(%q) = (%q, %t), want %q", tt.in, got, ok, tt.want)
		}
	}
}

func TestNormalizeUnrecognized(t *testing.T) {
	n := New(DefaultSynonyms())

	got, ok := n.Normalize("unknown_garbage")
	if ok || got != StatusUnrecognized {
		t.Fatalf("Normalize(unknown_garbage) = (%q, %t), want unrecognized", got, ok)
	}

	_, err := n.MustNormalize("unknown_garbage", "provider=x")
	var unrec *UnrecognizedError
	if !errors.As(err, &unrec) {
		t.Fatalf("expected UnrecognizedError, got %v", err)
	}
	if unrec.Raw != "unknown_garbage" || unrec.Context != "provider=x" {
		t.Fatalf("unexpected error payload: %+v", unrec)
	}
}

func TestTransactionTypeClassifiers(t *testing.T) {
	n := New(DefaultSynonyms())

	if !n.IsRefundType("REFUND") || !n.IsRefundType("partial_refund") {
		t.Fatal("expected refund types to classify as refund")
	}
	if !n.IsCancelType("void") || !n.IsCancelType("authorization_void") {
		t.Fatal("expected cancel types to classify as cancel")
	}
	if n.IsRefundType("payment") || n.IsCancelType("payment") {
		t.Fatal("payment must not classify as refund or cancel")
	}

	if !n.IsPaymentType(nil) {
		t.Fatal("nil transaction type must default to payment")
	}
	empty := "  "
	if !n.IsPaymentType(&empty) {
		t.Fatal("blank transaction type must default to payment")
	}
	refund := "refund"
	if n.IsPaymentType(&refund) {
		t.Fatal("refund transaction type must not classify as payment")
	}
	sale := "sale"
	if !n.IsPaymentType(&sale) {
		t.Fatal("sale transaction type must classify as payment")
	}
}

func TestMergeOverridesJSON(t *testing.T) {
	base := DefaultSynonyms()

	merged, err := base.MergeOverridesJSON(`{"succeeded":["ok","пройдено"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := New(merged)
	if got, ok := n.Normalize("пройдено"); !ok || got != StatusSucceeded {
		t.Fatalf("override synonym not applied: (%q, %t)", got, ok)
	}
	if _, ok := n.Normalize("successful"); ok {
		t.Fatal("override must replace the succeeded list, not extend it")
	}
	if got, ok := n.Normalize("refund"); !ok || got != StatusRefunded {
		t.Fatalf("untouched buckets must keep defaults: (%q, %t)", got, ok)
	}

	if _, err := base.MergeOverridesJSON("{broken"); err == nil {
		t.Fatal("expected error for malformed override JSON")
	}
}
