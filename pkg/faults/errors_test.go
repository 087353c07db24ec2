package faults

import (
	"errors"
	"testing"
)

const (
	operationName    = "store"
	subjectName      = "order"
	codeName         = "lock"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	if !errors.Is(wrappedError, baseError) {
		test.Fatalf("expected wrapped error to unwrap to base error")
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestKindSurvivesWrapping(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		err  error
		want error
	}{
		{name: "plain kind", err: ErrConflict, want: ErrConflict},
		{name: "formatted", err: Newf(ErrNotFound, "order %s", "o-1"), want: ErrNotFound},
		{name: "operation wrapped", err: WrapError(operationName, subjectName, codeName, Newf(ErrUnauthorized, "revoked")), want: ErrUnauthorized},
		{name: "no kind", err: errors.New("boom"), want: nil},
		{name: "nil", err: nil, want: nil},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := Kind(testCase.err); got != testCase.want {
				test.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}

func TestInfrastructureKeepsExistingKind(test *testing.T) {
	test.Parallel()
	if got := Kind(Infrastructure(errors.New("dial tcp: refused"))); got != ErrInfrastructure {
		test.Fatalf("expected infrastructure kind, got %v", got)
	}
	if got := Kind(Infrastructure(ErrNotFound)); got != ErrNotFound {
		test.Fatalf("expected not found kind to be kept, got %v", got)
	}
	if Infrastructure(nil) != nil {
		test.Fatalf("expected nil")
	}
}
