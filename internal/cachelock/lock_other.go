//go:build !(darwin || linux || freebsd || netbsd || openbsd || dragonfly || windows)

package cachelock

import "os"

const supported = false

func tryLock(*os.File) error { return ErrUnsupported }

func unlock(*os.File) error { return nil }
