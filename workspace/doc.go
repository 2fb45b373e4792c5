// Package workspace owns the per-request scratch directories and the staging
// of untrusted input into them.
//
// A Manager hands out a fresh directory for every request and removes it
// afterwards. A Stager writes a single source file, or extracts a zip,
// tar.gz or tar.zst archive, into the workspace's src directory. Entries
// that resolve outside the workspace fail the whole request; links and other
// special entries are skipped; entry count and uncompressed size are capped.
//
// Usage:
//
//	ws, err := manager.Acquire()
//	if err != nil {
//	    return err
//	}
//	defer manager.Release(ws)
//	files, err := stager.StageArchive(ws, data)
package workspace
