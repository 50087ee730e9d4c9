package testutil

// WithProcessStartup adds the opening syscalls of a typical dynamically linked
// process: 8 lines, one failed access, none unparseable.
func (f *FileBuilder) WithProcessStartup() *FileBuilder {
	return f.
		Call("execve", `"/usr/bin/cat", ["cat", "/etc/hostname"], 0x7ffc8e9b1d28 /* 42 vars */`, 0, Took(0.000412)).
		Call("brk", "NULL", 0, HexReturn(0x55edad95f000), Took(0.000004)).
		Call("access", `"/etc/ld.so.preload", R_OK`, 0, Failed("ENOENT", "No such file or directory")).
		Call("openat", `AT_FDCWD, "/etc/ld.so.cache", O_RDONLY|O_CLOEXEC`, 3).
		Call("fstat", "3, {st_mode=S_IFREG|0644, st_size=96212, ...}", 0).
		Call("mmap", "NULL, 96212, PROT_READ, MAP_PRIVATE, 3, 0", 0, HexReturn(0x7f3a2c1cc000)).
		Call("close", "3", 0).
		Call("exit_group", "0", 0, NoDuration())
}

// WithInterruptedWait adds a wait4 split across an unfinished and a resumed line.
func (f *FileBuilder) WithInterruptedWait(child int64) *FileBuilder {
	return f.
		Unfinished("wait4", "-1,").
		Resumed("wait4", "[{WIFEXITED(s)}], 0, NULL", child, Took(0.003117))
}

// WithGarbage adds n lines no parser shape accepts.
func (f *FileBuilder) WithGarbage(n int) *FileBuilder {
	for i := 0; i < n; i++ {
		f.Raw("+++ exited with 0 +++")
	}
	return f
}
