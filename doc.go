// Package intrinsichdr reconstructs HDR radiance from a single LDR photograph.
//
// The pipeline linearizes the gamma-encoded input with a pretrained
// dequantization network, decomposes the linear image into albedo and shading
// with pretrained intrinsic-decomposition networks, extends the dynamic range
// of both components independently, and recombines them into an HDR image
// written as OpenEXR or Radiance RGBE. All networks are opaque ONNX weights
// executed through ONNX Runtime; this package only chains them and handles
// image geometry, tone mapping and file I/O in pure Go.
package intrinsichdr
