package report

import "os"

// ResolvePath returns an output path that does not collide with an
// existing regular file, appending "_2" to the given path as many times
// as needed.
func ResolvePath(path string) string {
	for {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return path
		}
		path += "_2"
	}
}
