package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YasodaLAE/transformer/internal/domain/training"
)

// DescriptorName is the dataset descriptor handed to the trainer.
const DescriptorName = "data.yaml"

// YOLODataset lays out a YOLO training set:
//
//	<root>/images/insp_<id>_<name>
//	<root>/labels/insp_<id>_<stem>.txt
//	<root>/data.yaml
type YOLODataset struct {
	root string
}

func NewYOLODataset(root string) (*YOLODataset, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &YOLODataset{root: abs}, nil
}

func (d *YOLODataset) Root() string { return d.root }

func (d *YOLODataset) imagesDir() string { return filepath.Join(d.root, "images") }
func (d *YOLODataset) labelsDir() string { return filepath.Join(d.root, "labels") }

// Reset empties images/ and labels/ so a retry never sees files of an
// earlier, possibly interrupted, build.
func (d *YOLODataset) Reset() error {
	if err := ResetDir(d.imagesDir()); err != nil {
		return err
	}
	return ResetDir(d.labelsDir())
}

// AddSample copies the image as insp_<id>_<base name> and writes one
// label line per box. It returns the dataset-relative image name.
func (d *YOLODataset) AddSample(inspectionID int64, src string, labels []training.Label) (string, error) {
	name := fmt.Sprintf("insp_%d_%s", inspectionID, filepath.Base(src))
	if err := CopyFile(src, filepath.Join(d.imagesDir(), name)); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, l := range labels {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if err := os.WriteFile(filepath.Join(d.labelsDir(), stem+".txt"), []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// WriteDescriptor writes data.yaml and returns its absolute path.
func (d *YOLODataset) WriteDescriptor() (string, error) {
	b, err := yaml.Marshal(training.NewDescriptor(filepath.ToSlash(d.root)))
	if err != nil {
		return "", err
	}
	p := filepath.Join(d.root, DescriptorName)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return "", err
	}
	return p, nil
}
