package storage

import (
	"context"
	"errors"
	"testing"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	apperrors "github.com/athenasync/athenasync/internal/errors"
)

func newMemScanner(t *testing.T, keys ...string) *BlobScanner {
	t.Helper()
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	for _, key := range keys {
		if err := bucket.WriteAll(ctx, key, []byte("{}"), nil); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}
	return NewBlobScanner(bucket, 0)
}

func collect(t *testing.T, s Scanner, prefix string) []string {
	t.Helper()
	var keys []string
	for key, err := range s.ListObjectsUnderPrefix(context.Background(), prefix) {
		if err != nil {
			t.Fatalf("list %s: %v", prefix, err)
		}
		keys = append(keys, key)
	}
	return keys
}

func TestBlobScanner_ListObjectsUnderPrefix(t *testing.T) {
	s := newMemScanner(t,
		"AWSLogs/210987654321/CloudTrail/us-east-1/2024/03/10/a.json.gz",
		"AWSLogs/210987654321/CloudTrail/us-east-1/2024/03/10/b.json.gz",
		"AWSLogs/210987654321/CloudTrail/us-east-1/2024/03/11/c.json.gz",
	)

	keys := collect(t, s, "AWSLogs/210987654321/CloudTrail/us-east-1/2024/03/10/")
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	if keys[0] > keys[1] {
		t.Errorf("keys not in lexicographic order: %v", keys)
	}

	if keys := collect(t, s, "AWSLogs/210987654321/CloudTrail/eu-west-1/"); len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}

func TestBlobScanner_StopsEarly(t *testing.T) {
	s := newMemScanner(t, "p/1", "p/2", "p/3")
	seen := 0
	for _, err := range s.ListObjectsUnderPrefix(context.Background(), "p/") {
		if err != nil {
			t.Fatal(err)
		}
		seen++
		break
	}
	if seen != 1 {
		t.Errorf("expected iteration to stop after 1 key, saw %d", seen)
	}
}

func TestExists(t *testing.T) {
	s := newMemScanner(t, "AWSLogs/210987654321/CloudTrail/us-east-1/2024/03/10/a.json.gz")
	ctx := context.Background()

	ok, err := Exists(ctx, s, "AWSLogs/210987654321/CloudTrail/us-east-1/2024/03/10/")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true", ok, err)
	}
	ok, err = Exists(ctx, s, "AWSLogs/210987654321/CloudTrail/us-east-1/2024/03/09/")
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; want false", ok, err)
	}
}

func TestDiscoverAccounts(t *testing.T) {
	s := newMemScanner(t,
		"trail/AWSLogs/210987654321/CloudTrail/us-east-1/2024/03/10/a.json.gz",
		"trail/AWSLogs/o-a1b2c3d4e5/333333333333/CloudTrail/eu-west-1/2024/03/10/b.json.gz",
		"trail/AWSLogs/o-a1b2c3d4e5/111111111111/CloudTrail/eu-west-1/2024/03/10/c.json.gz",
		"trail/AWSLogs/o-a1b2c3d4e5/not-an-account/x",
		"trail/AWSLogs/README/x",
		"trail/other/210987654321/x",
	)

	accounts, err := DiscoverAccounts(context.Background(), s, "trail/")
	if err != nil {
		t.Fatalf("DiscoverAccounts: %v", err)
	}

	want := []string{"210987654321", "o-a1b2c3d4e5/111111111111", "o-a1b2c3d4e5/333333333333"}
	if len(accounts) != len(want) {
		t.Fatalf("got %v, want %v", accounts, want)
	}
	for i, a := range accounts {
		if a.Dir() != want[i] {
			t.Errorf("account[%d] = %s, want %s", i, a.Dir(), want[i])
		}
	}
}

func TestTableRoot(t *testing.T) {
	got := TableRoot("logs", "trail/", Account{ID: "210987654321", Org: "o-a1b2c3d4e5"})
	want := "s3://logs/trail/AWSLogs/o-a1b2c3d4e5/210987654321/CloudTrail/"
	if got != want {
		t.Errorf("TableRoot = %s, want %s", got, want)
	}
	if got := TableRoot("logs", "", Account{ID: "210987654321"}); got != "s3://logs/AWSLogs/210987654321/CloudTrail/" {
		t.Errorf("TableRoot without prefix = %s", got)
	}
}

func TestParseAccount(t *testing.T) {
	a, ok := ParseAccount("o-a1b2c3d4e5/210987654321/")
	if !ok || a.Org != "o-a1b2c3d4e5" || a.ID != "210987654321" {
		t.Errorf("ParseAccount = %+v, %v", a, ok)
	}
	if _, ok := ParseAccount("CloudTrail"); ok {
		t.Error("expected CloudTrail to be rejected")
	}
}

func TestCheckLayout(t *testing.T) {
	s := newMemScanner(t, "trail/AWSLogs/210987654321/CloudTrail/x")
	ctx := context.Background()

	if err := CheckLayout(ctx, s, "trail/"); err != nil {
		t.Errorf("CheckLayout: %v", err)
	}
	err := CheckLayout(ctx, s, "")
	if apperrors.GetCode(err) != apperrors.CodeLayoutMismatch {
		t.Errorf("expected layout mismatch, got %v", err)
	}
}

type staticLocator string

func (l staticLocator) BucketRegion(ctx context.Context) (string, error) { return string(l), nil }

func TestCheckBucketRegion(t *testing.T) {
	ctx := context.Background()
	if err := CheckBucketRegion(ctx, staticLocator("eu-west-1"), "eu-west-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := CheckBucketRegion(ctx, staticLocator("eu-west-1"), "us-east-1")
	if !errors.Is(err, apperrors.ErrConfig) || apperrors.GetCode(err) != apperrors.CodeRegionMismatch {
		t.Errorf("expected region mismatch, got %v", err)
	}
}

func TestOpenBlobScanner_File(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, "file://"+dir)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	if err := bucket.WriteAll(ctx, "AWSLogs/210987654321/CloudTrail/us-east-1/2024/03/10/a.json.gz", []byte("{}"), nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	bucket.Close()

	s, err := OpenBlobScanner(ctx, "file://"+dir, 0)
	if err != nil {
		t.Fatalf("OpenBlobScanner: %v", err)
	}
	defer s.Close()

	accounts, err := DiscoverAccounts(ctx, s, "")
	if err != nil {
		t.Fatalf("DiscoverAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "210987654321" {
		t.Errorf("accounts = %v", accounts)
	}
}

func TestS3BucketURL(t *testing.T) {
	if got := S3BucketURL("logs", "", ""); got != "s3://logs" {
		t.Errorf("got %s", got)
	}
	if got := S3BucketURL("logs", "eu-west-1", ""); got != "s3://logs?region=eu-west-1" {
		t.Errorf("got %s", got)
	}
}
