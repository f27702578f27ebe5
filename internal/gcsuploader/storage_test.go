package gcsuploader

import (
	"testing"
	"time"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://statements/2024/jan.csv", "statements", "2024/jan.csv", false},
		{"gs://bucket/file.xlsx", "bucket", "file.xlsx", false},
		{"https://bucket/file.csv", "", "", true},
		{"gs://bucket", "", "", true},
		{"gs://bucket/", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			b, o, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if b != tt.wantBucket || o != tt.wantObject {
				t.Errorf("ParseURI() = %q, %q want %q, %q", b, o, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"gs://bucket/folder/estratto.csv", "estratto.csv"},
		{"gs://bucket/file.xlsx", "file.xlsx"},
		{"gs://bucket", "bucket"},
	}
	for _, tt := range tests {
		if got := Filename(tt.uri); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestObjectName(t *testing.T) {
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	got := ObjectName("owner", "acc-1", "/tmp/export/estratto.csv", at)
	want := "statements/owner/acc-1/20240203T040506/estratto.csv"
	if got != want {
		t.Errorf("ObjectName() = %q, want %q", got, want)
	}
}
