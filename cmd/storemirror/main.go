// storemirror copies every key from a read-only source store.ROStore
// into a writable destination store.Store, grounded on the same
// cmd/butil flag-and-switch structure as storeutil, generalized to the
// generic Store/ROStore interfaces (store/store.go). The source side
// accepts any ROStore backend (local filesystem, S3, HTTP mirror); the
// destination must be a full read-write Store, so S3 (read-only in
// this module) is a valid source but not a valid destination.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/ndlib/zeroinstall-store/store"
)

var (
	srcKind  = flag.String("src-kind", "fs", "source store kind: fs, s3, http")
	srcAddr  = flag.String("src", ".", "source store location (path, bucket/prefix, or host)")
	dstKind  = flag.String("dst-kind", "fs", "destination store kind: fs")
	dstAddr  = flag.String("dst", ".", "destination store location")
	srcToken = flag.String("src-token", "", "API token sent as X-Api-Key, if src-kind is http")
)

func main() {
	flag.Parse()

	src, err := openROStore(*srcKind, *srcAddr, *srcToken)
	if err != nil {
		fmt.Fprintln(os.Stderr, "storemirror:", err)
		os.Exit(1)
	}
	dst, err := openStore(*dstKind, *dstAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "storemirror:", err)
		os.Exit(1)
	}

	var copied, failed int
	for key := range src.List() {
		if err := copyKey(src, dst, key); err != nil {
			fmt.Fprintf(os.Stderr, "storemirror: %s: %s\n", key, err)
			failed++
			continue
		}
		copied++
	}
	fmt.Printf("storemirror: copied %d keys, %d failures\n", copied, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func copyKey(src store.ROStore, dst store.Store, key string) error {
	rc, _, err := src.Open(key)
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := dst.Create(key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, store.NewReader(rc)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func openROStore(kind, addr, token string) (store.ROStore, error) {
	switch kind {
	case "fs":
		return store.NewFileSystem(addr), nil
	case "s3":
		bucket, prefix := splitBucketPrefix(addr)
		sess, err := session.NewSession()
		if err != nil {
			return nil, err
		}
		return store.NewS3(bucket, prefix, sess), nil
	case "http":
		return store.NewHTTPMirror(addr, token), nil
	default:
		return nil, fmt.Errorf("storemirror: unknown store kind %q", kind)
	}
}

func openStore(kind, addr string) (store.Store, error) {
	switch kind {
	case "fs":
		return store.NewFileSystem(addr), nil
	default:
		return nil, fmt.Errorf("storemirror: unknown writable store kind %q (s3 is read-only in this module)", kind)
	}
}

func splitBucketPrefix(addr string) (bucket, prefix string) {
	for i := 0; i < len(addr); i++ {
		if addr[i] == '/' {
			return addr[:i], addr[i+1:]
		}
	}
	return addr, ""
}
