package schema

import (
	"slices"
	"testing"
)

func TestJobRunColumns(t *testing.T) {
	want := []string{
		"id",
		"status",
		"failure_kind",
		"source_file",
		"total_pages",
		"questions_extracted",
		"output_file",
		"partial_output",
		"message",
		"started_at",
		"elapsed_ms",
	}
	if got := JobRunColumns(); !slices.Equal(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
}

func TestValidateJobRunStatus(t *testing.T) {
	tests := []struct {
		status  string
		wantErr bool
	}{
		{"completed", false},
		{"failed", false},
		{"processing", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			err := ValidateJobRunStatus(tt.status)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateJobRunStatus(%q) err = %v, wantErr %v", tt.status, err, tt.wantErr)
			}
		})
	}
}
