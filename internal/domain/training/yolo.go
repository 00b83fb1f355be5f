package training

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/YasodaLAE/transformer/internal/domain/annotations"
)

// Class ids of the binary fault model.
const (
	ClassPotentiallyFaulty = 0
	ClassFaulty            = 1
)

// ClassNames is indexed by class id.
var ClassNames = []string{"potentially_faulty", "faulty"}

// ClassFor maps a free-form fault type onto the two trained classes.
func ClassFor(faultType string) int {
	if strings.EqualFold(faultType, "Faulty") {
		return ClassFaulty
	}
	return ClassPotentiallyFaulty
}

// Label is one YOLO label line: class plus center-normalized box.
type Label struct {
	Class   int
	XCenter float64
	YCenter float64
	Width   float64
	Height  float64
}

// Normalize converts a top-left pixel box into YOLO coordinates for a W x H image.
func Normalize(class int, b annotations.Box, w, h int) Label {
	fw, fh := float64(w), float64(h)
	return Label{
		Class:   class,
		XCenter: (b.X + b.Width/2) / fw,
		YCenter: (b.Y + b.Height/2) / fh,
		Width:   b.Width / fw,
		Height:  b.Height / fh,
	}
}

// Box is the inverse of Normalize.
func (l Label) Box(w, h int) annotations.Box {
	fw, fh := float64(w), float64(h)
	width := l.Width * fw
	height := l.Height * fh
	return annotations.Box{
		X:      l.XCenter*fw - width/2,
		Y:      l.YCenter*fh - height/2,
		Width:  width,
		Height: height,
	}
}

func (l Label) String() string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f", l.Class, l.XCenter, l.YCenter, l.Width, l.Height)
}

// ParseLabel reads one label line.
func ParseLabel(line string) (Label, error) {
	f := strings.Fields(line)
	if len(f) != 5 {
		return Label{}, fmt.Errorf("label line needs 5 fields, got %d", len(f))
	}
	class, err := strconv.Atoi(f[0])
	if err != nil {
		return Label{}, fmt.Errorf("class id: %w", err)
	}
	var v [4]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(f[i+1], 64); err != nil {
			return Label{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return Label{Class: class, XCenter: v[0], YCenter: v[1], Width: v[2], Height: v[3]}, nil
}

// Descriptor is the data.yaml handed to the trainer.
type Descriptor struct {
	Path  string   `yaml:"path"`
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names,flow"`
}

// NewDescriptor describes a dataset rooted at root that trains and
// validates on the same images directory.
func NewDescriptor(root string) Descriptor {
	return Descriptor{
		Path:  root,
		Train: "images",
		Val:   "images",
		NC:    len(ClassNames),
		Names: ClassNames,
	}
}
