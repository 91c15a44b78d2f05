package hasher

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"os"
	"strconv"

	"github.com/vitali-fedulov/imagehash2"
	"github.com/vitali-fedulov/images4"
	_ "golang.org/x/image/webp"

	"repost-radar/internal/model"
)

const (
	// imagehash2 parameters for the central hash
	hashNumBuckets = 4
	hashEpsilon    = 0.25
)

// HashFunc turns a decoded image file into a HashValue.
type HashFunc func(r io.Reader) (model.HashValue, error)

// PerceptualHash decodes the image and returns its central imagehash2 hash
// as 16 hex digits.
func PerceptualHash(r io.Reader) (model.HashValue, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	icon := images4.Icon(img)
	return FormatHash(imagehash2.CentralHash9(icon, hashEpsilon, hashNumBuckets)), nil
}

// HashFile runs PerceptualHash over a local file.
func HashFile(path string) (model.HashValue, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return PerceptualHash(f)
}

func FormatHash(h uint64) model.HashValue {
	return model.HashValue(fmt.Sprintf("%016x", h))
}

// ParseHash is the inverse of FormatHash.
func ParseHash(v model.HashValue) (uint64, error) {
	return strconv.ParseUint(string(v), 16, 64)
}

// HammingDistance counts differing bits between two hashes. Duplicate
// detection uses exact equality; this is only reported by the offline tools.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether two image files look alike by images4's icon metric.
func Similar(pathA, pathB string) (bool, error) {
	a, err := loadIcon(pathA)
	if err != nil {
		return false, err
	}
	b, err := loadIcon(pathB)
	if err != nil {
		return false, err
	}
	return images4.Similar(a, b), nil
}

func loadIcon(path string) (images4.IconT, error) {
	f, err := os.Open(path)
	if err != nil {
		return images4.IconT{}, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return images4.IconT{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return images4.Icon(img), nil
}
