package workspace

// Directory is the set of workspace ids the service accepts. Workspaces are
// managed elsewhere; an empty Directory accepts every non-empty id.
type Directory struct {
	ids map[string]struct{}
}

// NewDirectory returns a Directory limited to ids. Empty ids are ignored.
func NewDirectory(ids ...string) Directory {
	d := Directory{}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if d.ids == nil {
			d.ids = make(map[string]struct{}, len(ids))
		}
		d.ids[id] = struct{}{}
	}
	return d
}

// Known reports whether id names an accepted workspace.
func (d Directory) Known(id string) bool {
	if id == "" {
		return false
	}
	if len(d.ids) == 0 {
		return true
	}
	_, ok := d.ids[id]
	return ok
}
