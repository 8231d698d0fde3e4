// Command g3dview renders a test scene through the standard deferred
// pipeline headless and reports frame statistics.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/backend"
	"github.com/gogpu/g3d/device"
	"github.com/gogpu/g3d/passes"
	"github.com/gogpu/g3d/resource"

	_ "github.com/gogpu/wgpu/hal/allbackends"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file")
		frames     = flag.Int("frames", -1, "frames to render (overrides config)")
		backendArg = flag.String("backend", "", "backend name (overrides config)")
		envPath    = flag.String("env", "", "Radiance HDR environment (overrides config)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *frames >= 0 {
		cfg.Frames = *frames
	}
	if *backendArg != "" {
		cfg.Backend = *backendArg
	}
	if *envPath != "" {
		cfg.Environment = *envPath
	}
	level, _ := cfg.level()
	g3d.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(cfg); err != nil {
		log.Fatalf("g3dview: %v", err)
	}
}

func run(cfg Config) error {
	backend.SyncHAL()
	opened, err := backend.Open(backend.Options{Name: cfg.Backend})
	if err != nil {
		return err
	}
	defer opened.Close()

	dev, err := device.New(opened.Device, cfg.deviceConfig(), opened.DeviceOptions()...)
	if err != nil {
		return err
	}
	defer dev.Close()

	res, err := resource.NewManager(dev)
	if err != nil {
		return err
	}
	defer res.Close()

	r, err := g3d.New(dev, res)
	if err != nil {
		return err
	}
	if err := createPasses(r, cfg.RTShadows); err != nil {
		return err
	}

	scene, err := buildScene(res, cfg)
	if err != nil {
		return err
	}
	if cfg.RTShadows {
		tlas, err := buildTLAS(dev, res, scene)
		if err != nil {
			return err
		}
		defer dev.DestroyTLAS(tlas)
		scene.TLAS = tlas
	}

	start := time.Now()
	for i := range cfg.Frames {
		animate(scene, float32(i)/60)
		if err := r.RenderScene(scene); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)
	if err := r.Shutdown(); err != nil {
		return err
	}

	w, h := dev.Size()
	log.Printf("rendered %d frames at %dx%d on %s in %v (%d live objects)",
		cfg.Frames, w, h, opened.Name, elapsed.Round(time.Millisecond), dev.LiveObjects())
	return nil
}

// createPasses builds the standard stack, inserting the ray traced shadow
// mask after the G-buffer when enabled.
func createPasses(r *g3d.Renderer, rtShadows bool) error {
	if !rtShadows {
		return passes.CreateStandardPasses(r)
	}
	if err := passes.CreateStandardPasses(r); err != nil {
		return err
	}
	err := g3d.CreateRenderPass(r, passes.RayTracedShadow, passes.NewRayTracedShadowPass(),
		passes.GeometryInput{Geometry: passes.Geometry})
	if err != nil {
		return err
	}
	stack := []g3d.PassHandle{passes.Shadow, passes.Geometry, passes.RayTracedShadow}
	stack = append(stack, passes.StandardStack[2:]...)
	return r.ConfigureRenderPasses(stack)
}

func buildScene(res *resource.Manager, cfg Config) (*g3d.SceneRenderInfo, error) {
	cube, err := res.CreateMesh(resource.CubeMeshData())
	if err != nil {
		return nil, err
	}
	ground, err := res.CreateMaterial(resource.MaterialDesc{Name: "ground", BaseColor: mgl32.Vec4{0.6, 0.6, 0.6, 1}, Roughness: 0.9})
	if err != nil {
		return nil, err
	}
	metal, err := res.CreateMaterial(resource.MaterialDesc{Name: "metal", BaseColor: mgl32.Vec4{0.9, 0.6, 0.2, 1}, Metallic: 1, Roughness: 0.3})
	if err != nil {
		return nil, err
	}

	scene := &g3d.SceneRenderInfo{
		Objects: []g3d.RenderObject{
			{Mesh: cube, Material: ground, World: mgl32.Translate3D(0, -0.5, 0).Mul4(mgl32.Scale3D(10, 0.1, 10))},
			{Mesh: cube, Material: metal, World: mgl32.Ident4()},
		},
		Lights: []g3d.Light{
			g3d.DirectionalLight(mgl32.Vec3{-0.4, -1, -0.3}, mgl32.Vec3{1, 0.95, 0.9}, 3),
			g3d.PointLight(mgl32.Vec3{2, 1, 2}, mgl32.Vec3{0.2, 0.4, 1}, 8, 6),
		},
	}
	if cfg.Environment != "" {
		env, err := res.CreateEnvironmentMap(cfg.Environment)
		if err != nil {
			g3d.Logger().Warn("g3dview: environment unavailable, using fallback", "err", err)
		} else {
			scene.Environment = env
		}
	}
	aspect := float32(cfg.Width) / float32(cfg.Height)
	eye := mgl32.Vec3{3, 2.5, 4}
	scene.Camera = g3d.Camera{
		View:       mgl32.LookAtV(eye, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0}),
		Projection: depthZeroToOne(mgl32.Perspective(mgl32.DegToRad(60), aspect, 0.1, 100)),
		Position:   eye,
	}
	return scene, nil
}

// depthZeroToOne remaps a GL projection to [0, 1] clip depth.
func depthZeroToOne(p mgl32.Mat4) mgl32.Mat4 {
	return mgl32.Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0.5, 0, 0, 0, 0.5, 1}.Mul4(p)
}

func buildTLAS(dev *device.Device, res *resource.Manager, scene *g3d.SceneRenderInfo) (*device.TLAS, error) {
	instances := make([]device.Instance, 0, len(scene.Objects))
	for _, obj := range scene.Objects {
		blas, err := res.MeshBLAS(obj.Mesh)
		if err != nil {
			return nil, err
		}
		instances = append(instances, device.Instance{BLAS: blas, Transform: obj.World})
	}
	return dev.CreateTLAS(device.TLASDesc{Label: "scene", Instances: instances})
}

// animate spins the second object.
func animate(scene *g3d.SceneRenderInfo, t float32) {
	scene.Time = t
	scene.Objects[1].World = mgl32.Translate3D(0, 0.5, 0).Mul4(mgl32.HomogRotate3DY(t))
}
