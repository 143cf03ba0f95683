package main

/*
#include <stdlib.h>

extern int real_execve(char *filename, char **argv, char **envp);
extern const char *exec_fn(void);
*/
import "C"

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// backend reaches the real libc and kernel.
type backend struct{}

func (backend) Execve(path string, argv, env []string) error {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	cargv := cStrings(argv)
	defer freeStrings(cargv, len(argv))

	cenv := cStrings(env)
	defer freeStrings(cenv, len(env))

	if _, err := C.real_execve(cpath, cargv, cenv); err != nil {
		return err
	}
	return syscall.EINVAL
}

// RealUID asks the kernel directly; Go does not go through libc here.
func (backend) RealUID() int {
	return unix.Getuid()
}

func (backend) ExecFn() string {
	return C.GoString(C.exec_fn())
}

var ptrSize = unsafe.Sizeof((*C.char)(nil))

// goStrings copies a NULL terminated C string array.
func goStrings(p **C.char) []string {
	var out []string
	for p != nil && *p != nil {
		out = append(out, C.GoString(*p))
		p = (**C.char)(unsafe.Add(unsafe.Pointer(p), ptrSize))
	}

	return out
}

// cStrings allocates a NULL terminated C copy of ss.
func cStrings(ss []string) **C.char {
	arr := (**C.char)(C.malloc(C.size_t(len(ss)+1) * C.size_t(ptrSize)))
	items := unsafe.Slice(arr, len(ss)+1)
	for i, s := range ss {
		items[i] = C.CString(s)
	}
	items[len(ss)] = nil

	return arr
}

func freeStrings(arr **C.char, n int) {
	for _, s := range unsafe.Slice(arr, n) {
		C.free(unsafe.Pointer(s))
	}
	C.free(unsafe.Pointer(arr))
}
