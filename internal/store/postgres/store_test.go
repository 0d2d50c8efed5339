package postgres

import (
	"database/sql"
	"testing"
)

func TestDeliveryColumns(t *testing.T) {
	status, id, err := deliveryColumns("sms")
	if err != nil || status != "sms_status" || id != "sms_message_id" {
		t.Fatalf("unexpected sms columns %q %q %v", status, id, err)
	}
	status, id, err = deliveryColumns("email")
	if err != nil || status != "email_status" || id != "email_message_id" {
		t.Fatalf("unexpected email columns %q %q %v", status, id, err)
	}
	if _, _, err := deliveryColumns("pigeon; DROP TABLE queues"); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
}

func TestNullHelpers(t *testing.T) {
	if nullIfZero(0) != nil {
		t.Fatalf("expected nil for zero")
	}
	if nullIfZero(3) != 3 {
		t.Fatalf("expected value passthrough")
	}
	if nullIfEmpty("") != nil {
		t.Fatalf("expected nil for empty string")
	}
	if p := nullIntPtr(sql.NullInt64{}); p != nil {
		t.Fatalf("expected nil pointer")
	}
	if p := nullIntPtr(sql.NullInt64{Int64: 7, Valid: true}); p == nil || *p != 7 {
		t.Fatalf("expected 7")
	}
}
