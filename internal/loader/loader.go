// Package loader stands in for the linker-produced app table
// (`_num_app`/`_app_names`): a name-to-ELF-bytes table built at kernel
// construction time instead of baked in by a build-time asm include.
package loader

import "sort"

// Loader holds the app table: every embeddable ELF image the kernel can
// exec, keyed by name. It satisfies internal/syscall.AppLoader.
type Loader struct {
	apps map[string][]byte
}

// New builds an empty app table.
func New() *Loader {
	return &Loader{apps: make(map[string][]byte)}
}

// Register adds name -> elfData to the app table, overwriting any prior
// entry for the same name.
func (l *Loader) Register(name string, elfData []byte) {
	l.apps[name] = elfData
}

// AppData resolves name to its ELF image. ok is false for an unknown app.
func (l *Loader) AppData(name string) ([]byte, bool) {
	data, ok := l.apps[name]
	return data, ok
}

// Names returns the registered app names in sorted order.
func (l *Loader) Names() []string {
	names := make([]string, 0, len(l.apps))
	for name := range l.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
