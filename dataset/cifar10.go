// Package dataset loads the CIFAR-10 image-classification corpus from its
// binary distribution and prepares centered/normalized array splits.
//
// It shares this repository with the sequence-to-sequence training core but
// is not part of the core's dependency graph: nothing here is invoked by,
// nor feeds, the model. It is pure I/O plus array reshaping.
package dataset

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// CIFAR-10 binary record layout: 1 label byte followed by 3072 pixel bytes
// (1024 red, 1024 green, 1024 blue, each a row-major 32x32 plane). The
// per-record layout is therefore already channels-first.
const (
	imageSize      = 3 * 32 * 32
	recordSize     = 1 + imageSize
	recordsPerFile = 10000
	trainBatches   = 5
)

// Batch holds raw or preprocessed images and their labels.
// Images are flat [3*32*32] channels-first vectors.
type Batch struct {
	Images [][]float32
	Labels []int32
}

// NumSamples returns the number of samples in the batch.
func (b *Batch) NumSamples() int {
	return len(b.Images)
}

// Data packages the prepared dataset splits.
type Data struct {
	Train, Val, Test *Batch
	Classes          []string
}

// PrepareOptions controls subsampling and preprocessing in Prepare.
type PrepareOptions struct {
	NumTraining   int // default 49000
	NumValidation int // default 1000
	NumTest       int // default 1000

	ZeroCenter bool // subtract the training-set mean image
	Normalize  bool // divide by the training-set per-pixel std
}

// Load reads the full CIFAR-10 training and test sets plus class names.
//
// Expected files in root (binary distribution):
//   - data_batch_1.bin ... data_batch_5.bin
//   - test_batch.bin
//   - batches.meta.txt
func Load(root string) (train, test *Batch, classes []string, err error) {
	train = &Batch{
		Images: make([][]float32, 0, trainBatches*recordsPerFile),
		Labels: make([]int32, 0, trainBatches*recordsPerFile),
	}
	for i := 1; i <= trainBatches; i++ {
		name := filepath.Join(root, fmt.Sprintf("data_batch_%d.bin", i))
		if err := readBatchFile(name, train); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load training batch %d: %w", i, err)
		}
	}

	test = &Batch{}
	if err := readBatchFile(filepath.Join(root, "test_batch.bin"), test); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load test batch: %w", err)
	}

	classes, err = readClassNames(filepath.Join(root, "batches.meta.txt"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load class names: %w", err)
	}

	return train, test, classes, nil
}

// Prepare loads CIFAR-10 from disk and performs the standard preprocessing
// for classifiers: subsample train/val/test, zero-center by the training
// mean image, and optionally scale by the training std.
//
// The validation split is carved from the training records immediately
// after the training subsample, so train and val never overlap.
func Prepare(root string, opts PrepareOptions) (*Data, error) {
	if opts.NumTraining == 0 {
		opts.NumTraining = 49000
	}
	if opts.NumValidation == 0 {
		opts.NumValidation = 1000
	}
	if opts.NumTest == 0 {
		opts.NumTest = 1000
	}

	rawTrain, rawTest, classes, err := Load(root)
	if err != nil {
		return nil, err
	}

	if opts.NumTraining+opts.NumValidation > rawTrain.NumSamples() {
		return nil, fmt.Errorf("train+val subsample %d exceeds %d training records",
			opts.NumTraining+opts.NumValidation, rawTrain.NumSamples())
	}
	if opts.NumTest > rawTest.NumSamples() {
		return nil, fmt.Errorf("test subsample %d exceeds %d test records", opts.NumTest, rawTest.NumSamples())
	}

	data := &Data{
		Train:   subsample(rawTrain, 0, opts.NumTraining),
		Val:     subsample(rawTrain, opts.NumTraining, opts.NumTraining+opts.NumValidation),
		Test:    subsample(rawTest, 0, opts.NumTest),
		Classes: classes,
	}

	if opts.ZeroCenter {
		mean := meanImage(data.Train.Images)
		for _, split := range []*Batch{data.Train, data.Val, data.Test} {
			for _, img := range split.Images {
				for j := range img {
					img[j] -= mean[j]
				}
			}
		}
	}

	if opts.Normalize {
		std := stdImage(data.Train.Images)
		for _, split := range []*Batch{data.Train, data.Val, data.Test} {
			for _, img := range split.Images {
				for j := range img {
					img[j] /= std[j]
				}
			}
		}
	}

	return data, nil
}

// readBatchFile appends one binary batch file's records to dst.
func readBatchFile(name string, dst *Batch) error {
	raw, err := os.ReadFile(name)
	if err != nil {
		return err
	}
	if len(raw)%recordSize != 0 {
		return fmt.Errorf("%s: size %d is not a multiple of record size %d", name, len(raw), recordSize)
	}

	numRecords := len(raw) / recordSize
	for r := 0; r < numRecords; r++ {
		rec := raw[r*recordSize : (r+1)*recordSize]

		label := rec[0]
		if label > 9 {
			return fmt.Errorf("%s: label %d out of range [0, 9] at record %d", name, label, r)
		}

		img := make([]float32, imageSize)
		for j, px := range rec[1:] {
			img[j] = float32(px)
		}

		dst.Images = append(dst.Images, img)
		dst.Labels = append(dst.Labels, int32(label))
	}
	return nil
}

// readClassNames reads the label-name list, one class per line.
func readClassNames(name string) ([]string, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var classes []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			classes = append(classes, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return classes, nil
}

// subsample takes records [from, to) of a batch. Images are shared, not
// copied; Prepare owns the loaded batches, so mutation stays internal.
func subsample(b *Batch, from, to int) *Batch {
	return &Batch{
		Images: b.Images[from:to],
		Labels: b.Labels[from:to],
	}
}

// meanImage computes the per-pixel mean over a set of images.
func meanImage(images [][]float32) []float32 {
	mean := make([]float32, imageSize)
	if len(images) == 0 {
		return mean
	}
	for _, img := range images {
		for j, v := range img {
			mean[j] += v
		}
	}
	n := float32(len(images))
	for j := range mean {
		mean[j] /= n
	}
	return mean
}

// stdImage computes the per-pixel standard deviation over a set of images.
func stdImage(images [][]float32) []float32 {
	mean := meanImage(images)
	std := make([]float32, imageSize)
	if len(images) == 0 {
		return std
	}
	for _, img := range images {
		for j, v := range img {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	n := float32(len(images))
	for j := range std {
		std[j] = float32(math.Sqrt(float64(std[j] / n)))
	}
	return std
}
