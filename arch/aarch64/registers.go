package aarch64

// registerNames is the AArch64 general-purpose register table (spec §3's
// per-architecture register name table), x0..x30 plus the stack pointer and
// the zero register.
var registerNames = []string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
	"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
	"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
	"x24", "x25", "x26", "x27", "x28", "x29", "x30",
	"sp", "xzr",
}

var registerByName = func() map[string]int {
	m := make(map[string]int, len(registerNames))
	for i, n := range registerNames {
		m[n] = i
	}
	return m
}()
