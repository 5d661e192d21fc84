// +build s3

package store

// tests the read-only S3 store against an external service. Can use amazon
// s3, or can run a local service with the same API (e.g. Minio).
//
// To run from the command line
//
//    env "AWS_ACCESS_KEY_ID=XXXXX" "AWS_SECRET_ACCESS_KEY=YYYY" go test -tags=s3 -run S3

import (
	"io"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
)

func getSession() *session.Session {
	s3Config := &aws.Config{
		Endpoint:         aws.String("http://localhost:9000"),
		Region:           aws.String("us-east-1"),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	}
	return session.New(s3Config)
}

func TestS3Open(t *testing.T) {
	s := NewS3("zoo", "", getSession())
	items, err := s.ListPrefix("")
	t.Log(err)
	t.Log(items)
	if len(items) == 0 {
		return
	}
	r, size, err := s.Open(items[0])
	t.Log(size, err)
	n, err := io.Copy(os.Stdout, NewReader(r))
	t.Log(n)
	t.Logf("%#v", err)
	r.Close()
}
