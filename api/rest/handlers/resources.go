package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"rh-orchestrator/config"
	"rh-orchestrator/core/credentials"
	"rh-orchestrator/core/importer"
	"rh-orchestrator/core/models"
	"rh-orchestrator/core/monitoring"
	"rh-orchestrator/core/repository"
	"rh-orchestrator/providers/runninghub"
)

// maxUploadMemory is how much of a multipart upload is kept in memory
// before spilling to temp files.
const maxUploadMemory = 32 << 20

// ResourceURLPrefix is where local copies of uploaded resources are served.
const ResourceURLPrefix = "/resource-files/"

// ResourceHandler handles files uploaded to the platform.
type ResourceHandler struct {
	resources   *repository.ResourceRepository
	profiles    *repository.ProfileRepository
	settings    *config.SettingsStore
	remote      runninghub.Options
	resourceDir string
}

// NewResourceHandler creates a new resource handler
func NewResourceHandler(
	resources *repository.ResourceRepository,
	profiles *repository.ProfileRepository,
	settings *config.SettingsStore,
	remote runninghub.Options,
	resourceDir string,
) *ResourceHandler {
	return &ResourceHandler{
		resources:   resources,
		profiles:    profiles,
		settings:    settings,
		remote:      remote,
		resourceDir: resourceDir,
	}
}

// ListResources handles GET /v1/resources
func (h *ResourceHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.resources.ListResources()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"resources": nonNil(resources)}))
}

// DeleteResource handles DELETE /v1/resources/{id}. The local copy is
// removed with the record; unknown ids succeed.
func (h *ResourceHandler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	victim, err := h.resources.DeleteResource(mux.Vars(r)["id"])
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		writeError(w, err)
		return
	}
	if name := strings.TrimSpace(victim.LocalPath); name != "" {
		path := filepath.Join(h.resourceDir, filepath.Base(name))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			monitoring.Logger().Warn("failed to remove resource copy", "path", path, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, ok(nil))
}

// ImportResources handles POST /v1/resources/import
func (h *ResourceHandler) ImportResources(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		badRequest(w, "failed to read body")
		return
	}
	raws, err := importer.ParseResources(data)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	total, err := h.resources.ImportResources(raws)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"count": total, "imported": len(raws)}))
}

// ExportResources handles GET /v1/resources/export
func (h *ResourceHandler) ExportResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.resources.ListResources()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schemaVersion": 1, "resources": nonNil(resources)})
}

// UploadResource handles POST /v1/resources/upload with multipart fields
// profileId, file and optional webappId. The file is sent to the platform
// with the profile's session, then copied locally for preview.
func (h *ResourceHandler) UploadResource(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		badRequest(w, "expected multipart form: "+err.Error())
		return
	}
	profileID := strings.TrimSpace(r.FormValue("profileId"))
	webappID := strings.TrimSpace(r.FormValue("webappId"))
	if profileID == "" {
		badRequest(w, "profileId required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file required")
		return
	}
	defer file.Close()

	profile, err := h.profiles.GetProfile(profileID)
	if err != nil {
		writeError(w, err)
		return
	}
	bundle, err := credentials.Resolve(profile.Host, profile.Record)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := h.remote
	opts.RequestTimeout = h.settings.Get().RequestTimeout()
	client, _, err := runninghub.New(opts, &bundle)
	if err != nil {
		writeError(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	result, err := client.UploadResource(r.Context(), runninghub.UploadAuth{
		Token:     bundle.AccessToken(),
		ComfyAuth: bundle.Value("Rh-Comfy-Auth"),
		Identify:  bundle.Value("Rh-Identify"),
		Referer:   client.Referer(map[string]interface{}{"webappId": webappID}),
	}, header.Filename, contentType, file)
	if err != nil {
		writeError(w, err)
		return
	}

	res := models.Resource{
		Name:             result.Name,
		OriginalFilename: header.Filename,
		WebappID:         webappID,
		ProfileID:        profileID,
		ProfileName:      profile.Name,
		UploadResponse:   result.Response,
		Mime:             contentType,
	}
	var localErr string
	if err := h.keepLocalCopy(&res, file); err != nil {
		localErr = err.Error()
		monitoring.Logger().Warn("failed to keep local resource copy", "name", result.Name, "error", err)
	}

	saved, err := h.resources.SaveUploaded(res)
	if err != nil {
		writeError(w, err)
		return
	}
	fields := map[string]interface{}{"resource": saved}
	if localErr != "" {
		fields["localCopyError"] = localErr
	}
	writeJSON(w, http.StatusOK, ok(fields))
}

// keepLocalCopy writes the uploaded file under the resource dir using the
// remote name, and fills in the local fields of res.
func (h *ResourceHandler) keepLocalCopy(res *models.Resource, src io.ReadSeeker) error {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}
	if err := os.MkdirAll(h.resourceDir, 0o755); err != nil {
		return err
	}
	name := runninghub.SafeFilename(res.Name)
	dest := filepath.Join(h.resourceDir, name)
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return err
	}

	res.LocalPath = name
	res.LocalURL = ResourceURLPrefix + name
	res.Size = n
	if res.Mime == "" {
		res.Mime = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	}
	return nil
}
