package metrics

import "testing"

func TestOutcomeConstants(t *testing.T) {
	if OutcomeSuccess != "success" {
		t.Errorf("OutcomeSuccess = %q, want success", OutcomeSuccess)
	}
	if OutcomeError != "error" {
		t.Errorf("OutcomeError = %q, want error", OutcomeError)
	}
	if OutcomeVetoed != "vetoed" {
		t.Errorf("OutcomeVetoed = %q, want vetoed", OutcomeVetoed)
	}
}
