package domain

import (
	"encoding/json"
	"testing"
)

func TestDiagnosticJSON(t *testing.T) {
	bare, err := json.Marshal(Diagnostic{Severity: SeverityWarn, Code: CodeSingleLocus, Message: "single locus"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := string(bare); got != `{"severity":"warn","code":"single_locus","message":"single locus"}` {
		t.Fatalf("unexpected encoding %s", got)
	}

	in := Diagnostic{Severity: SeverityLog, Code: CodeTypeMismatch, Message: "collapse disabled", Context: map[string]string{"field": "umi_count"}}
	payload, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Diagnostic
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.String() != in.String() {
		t.Fatalf("round trip changed diagnostic: %s != %s", out, in)
	}
}
