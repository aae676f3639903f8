// Package visualiser provides the render-side readers of a point buffer:
// an in-process Publisher that fans uploaded segments out to subscribers,
// a StreamServer that carries those segments over gRPC, and RenderPreview,
// which rasterises a snapshot to PNG.
package visualiser
