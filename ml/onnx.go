package ml

import (
	"errors"
	"fmt"
	"os"
	"sync"

	onnxruntime "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"
)

// ONNXOptions name the graph inputs and outputs of a classifier exported to ONNX by an
// external booster (onnxmltools / skl2onnx with zipmap disabled).
type ONNXOptions struct {
	SharedLibrary string `yaml:"shared_library" split_words:"true"`
	InputName     string `yaml:"input_name"`
	LabelOutput   string `yaml:"label_output"`
	ProbaOutput   string `yaml:"proba_output"`
}

func (o ONNXOptions) withDefaults() ONNXOptions {
	if o.InputName == "" {
		o.InputName = "input"
	}
	if o.LabelOutput == "" {
		o.LabelOutput = "label"
	}
	if o.ProbaOutput == "" {
		o.ProbaOutput = "probabilities"
	}
	return o
}

var onnxEnvMu sync.Mutex

func initONNXEnvironment(sharedLibrary string) error {
	onnxEnvMu.Lock()
	defer onnxEnvMu.Unlock()
	if onnxruntime.IsInitialized() {
		return nil
	}
	if sharedLibrary != "" {
		onnxruntime.SetSharedLibraryPath(sharedLibrary)
	}
	if err := onnxruntime.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	return nil
}

// ONNXClassifier runs a binary classifier graph through ONNX Runtime. The graph takes a
// float32 [batch, features] input and yields int64 labels plus float32 [batch, 2]
// probabilities.
type ONNXClassifier struct {
	session     *onnxruntime.DynamicAdvancedSession
	model       []byte
	opts        ONNXOptions
	numFeatures int
}

func LoadONNXClassifier(path string, opts ONNXOptions) (*ONNXClassifier, error) {
	model, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := initONNXEnvironment(opts.SharedLibrary); err != nil {
		return nil, err
	}

	inputs, _, err := onnxruntime.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, fmt.Errorf("inspect onnx model: %w", err)
	}
	numFeatures := -1
	for _, in := range inputs {
		if in.Name == opts.InputName && len(in.Dimensions) == 2 {
			numFeatures = int(in.Dimensions[1])
		}
	}
	if numFeatures <= 0 {
		return nil, fmt.Errorf("onnx input %q must have a fixed [batch, features] shape", opts.InputName)
	}

	options, err := onnxruntime.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := onnxruntime.NewDynamicAdvancedSessionWithONNXData(model,
		[]string{opts.InputName}, []string{opts.LabelOutput, opts.ProbaOutput}, options)
	if err != nil {
		return nil, fmt.Errorf("load onnx model: %w", err)
	}
	return &ONNXClassifier{session: session, model: model, opts: opts, numFeatures: numFeatures}, nil
}

func (c *ONNXClassifier) Kind() string { return KindONNX }

func (c *ONNXClassifier) NumFeatures() int { return c.numFeatures }

func (c *ONNXClassifier) PredictProba(x mat.Matrix) ([]float64, error) {
	_, proba, err := c.run(x)
	return proba, err
}

func (c *ONNXClassifier) Predict(x mat.Matrix) ([]int, error) {
	labels, _, err := c.run(x)
	return labels, err
}

func (c *ONNXClassifier) run(x mat.Matrix) ([]int, []float64, error) {
	if c.session == nil {
		return nil, nil, ErrNotTrained
	}
	rows, cols := x.Dims()
	if cols != c.numFeatures {
		return nil, nil, fmt.Errorf("%w: got %d, model expects %d", ErrFeatureMismatch, cols, c.numFeatures)
	}

	input := make([]float32, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			input = append(input, float32(x.At(i, j)))
		}
	}
	inputTensor, err := onnxruntime.NewTensor(onnxruntime.NewShape(int64(rows), int64(cols)), input)
	if err != nil {
		return nil, nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	labelOut := make([]int64, rows)
	labelTensor, err := onnxruntime.NewTensor(onnxruntime.NewShape(int64(rows)), labelOut)
	if err != nil {
		return nil, nil, fmt.Errorf("create label tensor: %w", err)
	}
	defer labelTensor.Destroy()

	probaOut := make([]float32, rows*2)
	probaTensor, err := onnxruntime.NewTensor(onnxruntime.NewShape(int64(rows), 2), probaOut)
	if err != nil {
		return nil, nil, fmt.Errorf("create probability tensor: %w", err)
	}
	defer probaTensor.Destroy()

	if err := c.session.Run([]onnxruntime.Value{inputTensor}, []onnxruntime.Value{labelTensor, probaTensor}); err != nil {
		return nil, nil, fmt.Errorf("onnx inference: %w", err)
	}

	labels := make([]int, rows)
	proba := make([]float64, rows)
	for i := 0; i < rows; i++ {
		labels[i] = int(labelOut[i])
		proba[i] = float64(probaOut[i*2+1])
	}
	return labels, proba, nil
}

// Save writes the original graph bytes.
func (c *ONNXClassifier) Save(path string) error {
	if len(c.model) == 0 {
		return errors.New("no onnx model loaded")
	}
	return os.WriteFile(path, c.model, 0o600)
}

func (c *ONNXClassifier) Destroy() {
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
}
