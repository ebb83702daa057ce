package vfs

import "path/filepath"

func dirOf(path string) string { return filepath.Dir(path) }

func filepathAbs(path string) (string, error) { return filepath.Abs(path) }
