//go:build !unix

package workspace

const oNoFollow = 0
