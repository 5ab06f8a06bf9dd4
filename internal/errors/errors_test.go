package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}
	if Wrap(nil, KindInternal, "noop") != nil {
		t.Errorf("wrapping nil should return nil")
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindUntrained, "model not trained")
	if GetKind(err) != KindUntrained {
		t.Errorf("expected KindUntrained, got %v", GetKind(err))
	}
	if GetKind(err).String() != "untrained" {
		t.Errorf("expected 'untrained', got %s", GetKind(err))
	}

	wrapped := Wrap(err, KindDimensionMismatch, "score")
	if GetKind(wrapped) != KindDimensionMismatch {
		t.Errorf("expected KindDimensionMismatch, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown for a plain error")
	}
}

func TestAttrKeepsSentinelIdentity(t *testing.T) {
	sentinel := New(KindDimensionMismatch, "width mismatch")
	err := Attr(sentinel, "expected", 3)
	err = Attr(err, "got", 2)

	if !Is(err, sentinel) {
		t.Errorf("attributed error should still match its sentinel")
	}
	if len(GetAttributes(sentinel)) != 0 {
		t.Errorf("Attr must not mutate the sentinel")
	}

	attrs := GetAttributes(err)
	if attrs["expected"] != 3 || attrs["got"] != 2 {
		t.Errorf("missing attributes: %v", attrs)
	}
}
