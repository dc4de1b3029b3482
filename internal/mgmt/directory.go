package mgmt

import (
	"sort"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("object not found")

// Directory maps uids to typed objects. It is immutable once built.
type Directory struct {
	objects map[Uid]TypedObject
}

// NewDirectory builds a directory, rejecting duplicate uids.
func NewDirectory(objects ...TypedObject) (Directory, error) {
	m := make(map[Uid]TypedObject, len(objects))
	for _, obj := range objects {
		if obj == nil {
			return Directory{}, errors.New("nil object in directory")
		}
		if _, ok := m[obj.ObjectUID()]; ok {
			return Directory{}, errors.Errorf("duplicate object uid %s", obj.ObjectUID())
		}
		m[obj.ObjectUID()] = obj
	}
	return Directory{objects: m}, nil
}

func (d Directory) Lookup(uid Uid) (TypedObject, bool) {
	obj, ok := d.objects[uid]
	return obj, ok
}

// Resolve is Lookup with an error wrapping ErrNotFound for absent uids.
func (d Directory) Resolve(uid Uid) (TypedObject, error) {
	obj, ok := d.objects[uid]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "uid %q", uid)
	}
	return obj, nil
}

func (d Directory) Len() int {
	return len(d.objects)
}

// Objects returns every object ordered by name, then uid.
func (d Directory) Objects() []TypedObject {
	out := make([]TypedObject, 0, len(d.objects))
	for _, obj := range d.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObjectName() != out[j].ObjectName() {
			return out[i].ObjectName() < out[j].ObjectName()
		}
		return out[i].ObjectUID() < out[j].ObjectUID()
	})
	return out
}
