package compositor

import "fmt"

// Info summarizes a document for diagnostics.
type Info struct {
	Pages int
	// Images counts image XObjects reachable from each page's resources.
	Images []int
}

// Inspect opens src with the same reader Composite uses.
func Inspect(src []byte) (info Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info = Info{}
			err = fmt.Errorf("%w: %v", ErrCorruptInput, r)
		}
	}()
	rdr, err := open(src)
	if err != nil {
		return Info{}, err
	}
	info.Pages = rdr.NumPage()
	info.Images = make([]int, info.Pages)
	for i := 0; i < info.Pages; i++ {
		xobjects := inheritedResources(rdr.Page(i + 1).V).Key("XObject")
		for _, name := range xobjects.Keys() {
			if xobjects.Key(name).Key("Subtype").Name() == "Image" {
				info.Images[i]++
			}
		}
	}
	return info, nil
}
