package helper

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
)

const defaultModelDir = "./models"

// ModelDir returns the local model cache directory, overridable via
// MAILRANK_MODEL_DIR.
func ModelDir() string {
	if dir := os.Getenv("MAILRANK_MODEL_DIR"); dir != "" {
		return dir
	}
	return defaultModelDir
}

// PrepareModel returns the local path of the named model, downloading
// it into the cache on first use. onnxFilePath selects the onnx file
// inside the model repository and defaults to "onnx/model.onnx" when
// empty.
func PrepareModel(modelName string, onnxFilePath string) (string, error) {
	modelDir := ModelDir()
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))

	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", NewError("stat model cache", err)
	}

	if err := os.MkdirAll(modelDir, 0o750); err != nil {
		return "", NewError("create model cache", err)
	}

	if onnxFilePath == "" {
		onnxFilePath = "onnx/model.onnx"
	}
	options := hugot.NewDownloadOptions()
	options.OnnxFilePath = onnxFilePath

	downloaded, err := hugot.DownloadModel(modelName, modelDir, options)
	if err != nil {
		return "", NewError("download model", err)
	}

	return downloaded, nil
}
