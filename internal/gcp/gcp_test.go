package gcp

import (
	"testing"
	"time"
)

func TestParseGCSURI(t *testing.T) {
	bucket, prefix, err := ParseGCSURI("gs://ocr-out/123/0/")
	if err != nil {
		t.Fatalf("ParseGCSURI() error = %v", err)
	}
	if bucket != "ocr-out" || prefix != "123/0/" {
		t.Fatalf("got bucket=%q prefix=%q", bucket, prefix)
	}
	if _, _, err := ParseGCSURI("s3://nope/x"); err == nil {
		t.Fatal("expected error for non-gs uri")
	}
	if _, _, err := ParseGCSURI("gs:///x"); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("DRF_INT", "7")
	t.Setenv("DRF_BAD_INT", "seven")
	t.Setenv("DRF_DUR", "90s")
	t.Setenv("DRF_BOOL", "true")
	t.Setenv("DRF_FLOAT", "2.5")

	if got := GetEnvInt("DRF_INT", 1); got != 7 {
		t.Fatalf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt("DRF_BAD_INT", 1); got != 1 {
		t.Fatalf("GetEnvInt fallback = %d", got)
	}
	if got := GetEnvDuration("DRF_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("GetEnvDuration = %s", got)
	}
	if !GetEnvBool("DRF_BOOL", false) {
		t.Fatal("GetEnvBool = false")
	}
	if got := GetEnvFloat("DRF_FLOAT", 0); got != 2.5 {
		t.Fatalf("GetEnvFloat = %v", got)
	}
	if got := GetEnv("DRF_UNSET_KEY", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv = %q", got)
	}
}
