// Command libfakeroot builds the LD_PRELOAD shim:
//
//	go build -buildmode=c-shared -o libfakeroot.so ./cmd/libfakeroot
//
// fake.c overrides the libc symbols and calls the exported functions below.
package main

/*
extern const char *library_path(void);
*/
import "C"

import (
	"errors"
	"sync"
	"syscall"

	"github.com/lutaod/tinycage/internal/fakeroot"
)

var (
	once sync.Once
	shim *fakeroot.Shim
)

func current() *fakeroot.Shim {
	once.Do(func() {
		shim = fakeroot.New(backend{}, fakeroot.FromEnv(C.GoString(C.library_path())))
	})

	return shim
}

//export fakerootGetuid
func fakerootGetuid() C.int {
	return C.int(current().Getuid())
}

//export fakerootGeteuid
func fakerootGeteuid() C.int {
	return C.int(current().Geteuid())
}

//export fakerootGetgid
func fakerootGetgid() C.int {
	return C.int(current().Getgid())
}

//export fakerootGetegid
func fakerootGetegid() C.int {
	return C.int(current().Getegid())
}

//export fakerootFake
func fakerootFake(call *C.char) C.int {
	return C.int(current().Fake(C.GoString(call)))
}

// fakerootExecve returns the errno of a failed exec.
//
//export fakerootExecve
func fakerootExecve(file *C.char, argv, envp **C.char) C.int {
	err := current().Execve(C.GoString(file), goStrings(argv), goStrings(envp))

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return C.int(errno)
	}
	return C.int(syscall.EINVAL)
}

func main() {}
