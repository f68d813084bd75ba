package seg

import (
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// builder collects the elements of a dataset or sequence item. The first
// failure sticks and every later call is a no-op.
type builder struct {
	elems []*dicom.Element
	err   error
}

func item() *builder {
	return &builder{}
}

func (b *builder) add(t tag.Tag, value any) *builder {
	if b.err != nil {
		return b
	}
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		b.err = fmt.Errorf("failed to create element %v: %w", t, err)
		return b
	}
	b.elems = append(b.elems, elem)
	return b
}

func (b *builder) seq(t tag.Tag, items ...*builder) *builder {
	values := make([][]*dicom.Element, 0, len(items))
	for _, it := range items {
		if it.err != nil && b.err == nil {
			b.err = it.err
		}
		values = append(values, it.elems)
	}
	return b.add(t, values)
}
