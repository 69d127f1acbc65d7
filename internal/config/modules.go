package config

import (
	_ "github.com/pixelhub/pixelhub/internal/transform/grayscale"
	_ "github.com/pixelhub/pixelhub/internal/transform/thumbnail"
)
