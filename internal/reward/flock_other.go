//go:build !unix

package reward

// lockFile is a no-op where flock is unavailable. A FileStore is then only
// safe within a single process.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
