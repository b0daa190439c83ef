// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package render

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/docview/gpuctx"
	"github.com/gogpu/docview/texcache"
)

//go:embed shaders/blit.wgsl
var blitShaderWGSL string

// blitFenceTimeout is the maximum time to wait for a blit to complete.
const blitFenceTimeout = 5 * time.Second

// copyPitchAlignment is the row alignment WebGPU (and DX12) require for
// texture-to-buffer copies.
const copyPitchAlignment = 256

// blitParamsSize is the byte size of the BlitParams uniform (8 x u32).
const blitParamsSize = 32

// halSource is the device surface the GPU blitter needs: the shared HAL
// device and queue plus texture handle lookup for command encoding.
type halSource interface {
	HAL() (hal.Device, hal.Queue)
	HALTexture(id gpuctx.TextureID) (hal.Texture, bool)
}

// gpuBlitter scales page textures on the GPU and reads the result back
// into CPU targets. It owns a compute pipeline compiled once per device.
type gpuBlitter struct {
	src      halSource
	device   hal.Device
	queue    hal.Queue
	shader   hal.ShaderModule
	layout   hal.BindGroupLayout
	pipeline hal.ComputePipeline
	pipeLay  hal.PipelineLayout
}

// newGPUBlitter builds the blit pipeline against dev's HAL device.
// Returns (nil, nil) when dev is not HAL-backed.
func newGPUBlitter(dev gpuctx.Device) (blitter, error) {
	src, ok := dev.(halSource)
	if !ok {
		return nil, nil
	}
	device, queue := src.HAL()
	b := &gpuBlitter{src: src, device: device, queue: queue}
	if err := b.createPipeline(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *gpuBlitter) createPipeline() error {
	spirvBytes, err := naga.Compile(blitShaderWGSL)
	if err != nil {
		return fmt.Errorf("render: compile blit shader: %w", err)
	}
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}

	shader, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "page_blit",
		Source: hal.ShaderSource{SPIRV: spirvCode},
	})
	if err != nil {
		return fmt.Errorf("render: create blit shader module: %w", err)
	}
	b.shader = shader

	layout, err := b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "page_blit_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		b.destroy()
		return fmt.Errorf("render: create blit bind group layout: %w", err)
	}
	b.layout = layout

	pipeLay, err := b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "page_blit_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{b.layout},
	})
	if err != nil {
		b.destroy()
		return fmt.Errorf("render: create blit pipeline layout: %w", err)
	}
	b.pipeLay = pipeLay

	pipeline, err := b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   "page_blit_pipeline",
		Layout:  b.pipeLay,
		Compute: hal.ComputeState{Module: b.shader, EntryPoint: "main"},
	})
	if err != nil {
		b.destroy()
		return fmt.Errorf("render: create blit compute pipeline: %w", err)
	}
	b.pipeline = pipeline
	return nil
}

func (b *gpuBlitter) destroy() {
	if b.pipeline != nil {
		b.device.DestroyComputePipeline(b.pipeline)
		b.pipeline = nil
	}
	if b.pipeLay != nil {
		b.device.DestroyPipelineLayout(b.pipeLay)
		b.pipeLay = nil
	}
	if b.layout != nil {
		b.device.DestroyBindGroupLayout(b.layout)
		b.layout = nil
	}
	if b.shader != nil {
		b.device.DestroyShaderModule(b.shader)
		b.shader = nil
	}
}

// blit copies the texture into a storage buffer, dispatches the scale
// shader at the viewport size, and reads the result back into the target.
// One submit and one fence wait per draw.
func (b *gpuBlitter) blit(target RenderTarget, v texcache.EntryView, vp Viewport) error {
	if target.Pixels() == nil {
		return ErrNoDrawPath
	}
	tex, ok := b.src.HALTexture(v.Texture)
	if !ok {
		return gpuctx.ErrUnknownTexture
	}
	rect := clipViewport(target, vp)
	if rect.Empty() {
		return nil
	}
	dw := uint32(rect.Dx())
	dh := uint32(rect.Dy())
	sw := uint32(v.Width)
	sh := uint32(v.Height)

	srcBytesPerRow := sw * 4
	alignedBytesPerRow := (srcBytesPerRow + copyPitchAlignment - 1) &^ uint32(copyPitchAlignment-1)
	srcBufSize := uint64(alignedBytesPerRow) * uint64(sh)
	dstBufSize := uint64(dw) * uint64(dh) * 4

	srcBuf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "blit_src", Size: srcBufSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("render: create blit source buffer: %w", err)
	}
	defer b.device.DestroyBuffer(srcBuf)

	dstBuf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "blit_dst", Size: dstBufSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("render: create blit dest buffer: %w", err)
	}
	defer b.device.DestroyBuffer(dstBuf)

	stagingBuf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "blit_staging", Size: dstBufSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("render: create blit staging buffer: %w", err)
	}
	defer b.device.DestroyBuffer(stagingBuf)

	params := make([]byte, blitParamsSize)
	binary.LittleEndian.PutUint32(params[0:], sw)
	binary.LittleEndian.PutUint32(params[4:], sh)
	binary.LittleEndian.PutUint32(params[8:], alignedBytesPerRow/4)
	binary.LittleEndian.PutUint32(params[12:], dw)
	binary.LittleEndian.PutUint32(params[16:], dh)

	uniformBuf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "blit_params", Size: blitParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("render: create blit uniform buffer: %w", err)
	}
	defer b.device.DestroyBuffer(uniformBuf)
	b.queue.WriteBuffer(uniformBuf, 0, params)

	bg, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "blit_bind",
		Layout: b.layout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: uniformBuf.NativeHandle(), Offset: 0, Size: blitParamsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: srcBuf.NativeHandle(), Offset: 0, Size: srcBufSize}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: dstBuf.NativeHandle(), Offset: 0, Size: dstBufSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("render: create blit bind group: %w", err)
	}
	defer b.device.DestroyBindGroup(bg)

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "page_blit_encoder"})
	if err != nil {
		return fmt.Errorf("render: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("page_blit"); err != nil {
		return fmt.Errorf("render: begin encoding: %w", err)
	}

	encoder.CopyTextureToBuffer(tex, srcBuf, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: sh},
		TextureBase:  hal.ImageCopyTexture{Texture: tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: sw, Height: sh, DepthOrArrayLayers: 1},
	}})

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "page_blit"})
	pass.SetPipeline(b.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch((dw+7)/8, (dh+7)/8, 1)
	pass.End()

	encoder.CopyBufferToBuffer(dstBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: dstBufSize},
	})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("render: end encoding: %w", err)
	}
	defer b.device.FreeCommandBuffer(cmdBuf)

	fence, err := b.device.CreateFence()
	if err != nil {
		return fmt.Errorf("render: create fence: %w", err)
	}
	defer b.device.DestroyFence(fence)

	if err := b.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("render: submit blit: %w", err)
	}
	fenceOK, err := b.device.Wait(fence, 1, blitFenceTimeout)
	if err != nil || !fenceOK {
		return fmt.Errorf("render: wait for blit: ok=%v err=%w", fenceOK, err)
	}

	readback := make([]byte, dstBufSize)
	if err := b.queue.ReadBuffer(stagingBuf, 0, readback); err != nil {
		return fmt.Errorf("render: blit readback: %w", err)
	}

	dst := targetImage(target)
	rowBytes := int(dw) * 4
	for y := 0; y < int(dh); y++ {
		dstOff := dst.PixOffset(rect.Min.X, rect.Min.Y+y)
		copy(dst.Pix[dstOff:dstOff+rowBytes], readback[y*rowBytes:])
	}
	return nil
}
