// Package network implements the feed forward networks that back the
// policy and value functions of an agent
package network

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// FeedForward is a stack of fully connected layers with SiLU
// activations between layers and no activation on the final layer.
// The layers own the parameter values; the net owns a Gorgonia
// computational graph those values are bound into before every
// forward pass, which is how stochastic layers get to contribute a
// fresh weight sample per pass.
//
// The graph is built for a fixed batch size and rebuilt lazily
// whenever Forward is called with a different number of rows.
type FeedForward struct {
	layers   []Layer
	features int
	outputs  int

	batchSize   int
	g           *G.ExprGraph
	vm          G.VM
	input       *G.Node
	weightNodes []*G.Node
	biasNodes   []*G.Node
	prediction  *G.Node
	predVal     G.Value
}

// NewFeedForward creates a feed forward net from an ordered sequence
// of layer widths, where widths[0] is the input width and the final
// entry is the output width. A net with N+1 widths has N layers, each
// constructed by factory, with SiLU activations everywhere except the
// final layer.
func NewFeedForward(widths []int, factory LayerFactory) (*FeedForward,
	error) {
	if len(widths) < 2 {
		return nil, fmt.Errorf("newfeedforward: need at least an input and "+
			"an output width \n\thave(%v)", widths)
	}

	layers := make([]Layer, 0, len(widths)-1)
	for i := 0; i+1 < len(widths); i++ {
		act := SiLU()
		if i+2 == len(widths) {
			// Final layer activation removed
			act = Identity()
		}
		layer, err := factory.Make(widths[i], widths[i+1], act)
		if err != nil {
			return nil, fmt.Errorf("newfeedforward: could not make layer "+
				"%v: %v", i, err)
		}
		layers = append(layers, layer)
	}

	return FromLayers(layers)
}

// FromLayers creates a feed forward net over existing layers. The
// net's widths are derived entirely from the layers' shapes. This is
// the constructor used when rebuilding a deterministic net from
// extracted posterior weights.
func FromLayers(layers []Layer) (*FeedForward, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("fromlayers: no layers")
	}
	for i := 0; i+1 < len(layers); i++ {
		if layers[i].Out() != layers[i+1].In() {
			return nil, fmt.Errorf("fromlayers: layer %v output does not "+
				"feed layer %v \n\twant(%v) \n\thave(%v)", i, i+1,
				layers[i+1].In(), layers[i].Out())
		}
	}

	return &FeedForward{
		layers:   layers,
		features: layers[0].In(),
		outputs:  layers[len(layers)-1].Out(),
	}, nil
}

// Features returns the number of input features the net expects.
func (f *FeedForward) Features() int {
	return f.features
}

// Outputs returns the width of the net's output.
func (f *FeedForward) Outputs() int {
	return f.outputs
}

// Layers returns the net's layers in order.
func (f *FeedForward) Layers() []Layer {
	return f.layers
}

// Widths returns the ordered layer widths of the net, input width
// first.
func (f *FeedForward) Widths() []int {
	widths := make([]int, 0, len(f.layers)+1)
	widths = append(widths, f.layers[0].In())
	for _, layer := range f.layers {
		widths = append(widths, layer.Out())
	}
	return widths
}

// KL returns the summed KL divergence of every layer's weight
// posterior from its prior. Nets made of deterministic layers return
// 0.
func (f *FeedForward) KL() float64 {
	total := 0.0
	for _, layer := range f.layers {
		total += layer.KL()
	}
	return total
}

// Forward runs the net on a batch of inputs, one row per input
// vector, and returns one output row per input row. Stochastic layers
// sample fresh weights for the whole batch on every call.
func (f *FeedForward) Forward(input *mat.Dense) (*mat.Dense, error) {
	rows, cols := input.Dims()
	if cols != f.features {
		return nil, fmt.Errorf("forward: invalid number of features "+
			"\n\twant(%v) \n\thave(%v)", f.features, cols)
	}

	if f.g == nil || rows != f.batchSize {
		if err := f.rebuild(rows); err != nil {
			return nil, fmt.Errorf("forward: %v", err)
		}
	}

	// Bind the current parameter values. Stochastic layers return a
	// fresh posterior draw here.
	for i, layer := range f.layers {
		weights, bias := layer.Materialize()
		if err := G.Let(f.weightNodes[i], weights); err != nil {
			return nil, fmt.Errorf("forward: could not set layer %v "+
				"weights: %v", i, err)
		}
		if err := G.Let(f.biasNodes[i], bias); err != nil {
			return nil, fmt.Errorf("forward: could not set layer %v "+
				"bias: %v", i, err)
		}
	}

	flat := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		mat.Row(flat[r*cols:(r+1)*cols], r, input)
	}
	inputTensor := tensor.New(
		tensor.WithShape(rows, cols),
		tensor.WithBacking(flat),
	)
	if err := G.Let(f.input, inputTensor); err != nil {
		return nil, fmt.Errorf("forward: could not set input: %v", err)
	}

	if err := f.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("forward: could not run the forward pass: %v",
			err)
	}
	defer f.vm.Reset()

	output := append([]float64(nil), f.predVal.Data().([]float64)...)
	return mat.NewDense(rows, f.outputs, output), nil
}

// rebuild constructs the computational graph and tape machine for a
// new batch size.
func (f *FeedForward) rebuild(batchSize int) error {
	g := G.NewGraph()

	input := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batchSize, f.features),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	weightNodes := make([]*G.Node, len(f.layers))
	biasNodes := make([]*G.Node, len(f.layers))

	pred := input
	for i, layer := range f.layers {
		weightNodes[i] = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(layer.In(), layer.Out()),
			G.WithName(fmt.Sprintf("weights%v", i)),
			G.WithInit(G.Zeroes()),
		)
		biasNodes[i] = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(1, layer.Out()),
			G.WithName(fmt.Sprintf("bias%v", i)),
			G.WithInit(G.Zeroes()),
		)

		pred = G.Must(G.Mul(pred, weightNodes[i]))

		// Broadcast the bias weights to all samples along the batch
		// dimension
		pred = G.Must(G.BroadcastAdd(pred, biasNodes[i], nil, []byte{0}))

		act := layer.Activation()
		if act != nil && !act.IsNil() && !act.IsIdentity() {
			var err error
			if pred, err = act.fwd(pred); err != nil {
				return fmt.Errorf("rebuild: could not apply activation of "+
					"layer %v: %v", i, err)
			}
		}
	}

	f.g = g
	f.input = input
	f.weightNodes = weightNodes
	f.biasNodes = biasNodes
	f.prediction = pred
	f.batchSize = batchSize

	// Read must be wired in before the tape machine compiles the graph.
	// The read value must be cleared first: Read copies into an existing
	// value in place, which would keep the previous batch size's shape.
	f.predVal = nil
	G.Read(f.prediction, &f.predVal)
	f.vm = G.NewTapeMachine(g)

	return nil
}
