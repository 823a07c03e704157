package ml

import (
	"fmt"
)

// ModelFile is the file name a classifier kind is stored under inside an artifact version.
func ModelFile(kind string) (string, error) {
	switch kind {
	case KindGBDT:
		return "model.json", nil
	case KindONNX:
		return "model.onnx", nil
	default:
		return "", fmt.Errorf("unsupported model type %q", kind)
	}
}

func LoadClassifier(kind, path string, opts ONNXOptions) (Classifier, error) {
	switch kind {
	case KindGBDT:
		return LoadBooster(path)
	case KindONNX:
		return LoadONNXClassifier(path, opts)
	default:
		return nil, fmt.Errorf("unsupported model type %q", kind)
	}
}
