package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"repost-radar/internal/hasher"
)

var compareCmd = &cobra.Command{
	Use:   "compare <image1> <image2>",
	Short: "Compare two images by file hash and perceptual hash",
	Long: `Compare two local images the way the bot does. The bot treats two images as
duplicates only when their perceptual hashes are equal; the Hamming distance and
icon similarity are shown to help judge near misses.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := compareImages(args[0], args[1])
		if err != nil {
			return err
		}
		printComparison(args[0], args[1], res)
		return nil
	},
}

type comparison struct {
	sha1, sha2   string
	hash1, hash2 string
	distance     int
	similar      bool
}

func (c comparison) verdict() string {
	switch {
	case c.sha1 == c.sha2:
		return "IDENTICAL (same file)"
	case c.hash1 == c.hash2:
		return "DUPLICATE (same perceptual hash)"
	case c.distance <= 5:
		return "VERY SIMILAR (not counted as duplicate)"
	case c.distance <= 10:
		return "SIMILAR (not counted as duplicate)"
	default:
		return "DIFFERENT"
	}
}

func compareImages(pathA, pathB string) (comparison, error) {
	var c comparison
	var err error
	if c.sha1, err = fileSHA256(pathA); err != nil {
		return c, err
	}
	if c.sha2, err = fileSHA256(pathB); err != nil {
		return c, err
	}

	h1, err := hasher.HashFile(pathA)
	if err != nil {
		return c, fmt.Errorf("%s: %w", pathA, err)
	}
	h2, err := hasher.HashFile(pathB)
	if err != nil {
		return c, fmt.Errorf("%s: %w", pathB, err)
	}
	c.hash1, c.hash2 = string(h1), string(h2)

	v1, err := hasher.ParseHash(h1)
	if err != nil {
		return c, err
	}
	v2, err := hasher.ParseHash(h2)
	if err != nil {
		return c, err
	}
	c.distance = hasher.HammingDistance(v1, v2)

	if c.similar, err = hasher.Similar(pathA, pathB); err != nil {
		return c, err
	}
	return c, nil
}

func fileSHA256(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func printComparison(pathA, pathB string, c comparison) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("Comparing images:\n  Image 1: %s\n  Image 2: %s\n\n", pathA, pathB)

	fmt.Println(bold("FILE HASH"))
	fmt.Printf("  Image 1 SHA256: %s\n", c.sha1)
	fmt.Printf("  Image 2 SHA256: %s\n\n", c.sha2)

	fmt.Println(bold("PERCEPTUAL HASH"))
	fmt.Printf("  Image 1: %s\n", c.hash1)
	fmt.Printf("  Image 2: %s\n", c.hash2)
	fmt.Printf("  Hamming distance: %d bits (similarity %d%%)\n", c.distance, 100-c.distance*100/64)
	fmt.Printf("  Icons similar: %v\n\n", c.similar)

	v := c.verdict()
	switch {
	case c.hash1 == c.hash2:
		v = color.GreenString(v)
	case c.distance <= 10:
		v = color.YellowString(v)
	default:
		v = color.RedString(v)
	}
	fmt.Printf("%s %s\n", bold("RESULT:"), v)
}

func init() {
	rootCmd.AddCommand(compareCmd)
}
