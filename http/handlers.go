package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/celo-org/snark-setup-coordinator/api"
	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
	"github.com/celo-org/snark-setup-coordinator/metrics"
)

// maxDocumentBytes bounds JSON request bodies.
const maxDocumentBytes = 64 << 20

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

var errBadRequest = errors.New("malformed request body")

func (s *Server) getCeremony(w http.ResponseWriter, r *http.Request) {
	doc, err := s.coordinator.GetCeremony(r.Context())
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusInternalServerError), err.Error())
		return
	}
	s.ok(w, r, doc)
}

func (s *Server) putCeremony(w http.ResponseWriter, r *http.Request) {
	doc := new(ceremony.Ceremony)
	if err := decodeBody(r, doc); err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.coordinator.SetCeremony(r.Context(), doc)
	if err != nil {
		s.failOp(w, r, "set_ceremony", err, http.StatusConflict)
		return
	}
	s.okOp(w, r, "set_ceremony", &api.SetCeremonyResult{Version: updated.Version})
}

func (s *Server) lockChunk(w http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "id")
	locked, err := s.coordinator.TryLockChunk(r.Context(), chunkID, ParticipantFromContext(r.Context()))
	if err != nil {
		s.failOp(w, r, "lock", err, http.StatusBadRequest)
		return
	}
	s.okOp(w, r, "lock", &api.LockResult{ChunkID: chunkID, Locked: locked})
}

func (s *Server) unlockChunk(w http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "id")
	if err := s.coordinator.UnlockChunk(r.Context(), chunkID, ParticipantFromContext(r.Context())); err != nil {
		s.failOp(w, r, "unlock", err, http.StatusBadRequest)
		return
	}
	s.okOp(w, r, "unlock", &api.UnlockResult{ChunkID: chunkID, Unlocked: true})
}

func (s *Server) contributionLocation(w http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "id")
	participantID := ParticipantFromContext(r.Context())
	doc, err := s.coordinator.GetCeremony(r.Context())
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusInternalServerError), err.Error())
		return
	}
	chunk, err := doc.Chunk(chunkID)
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusBadRequest), err.Error())
		return
	}
	writeURL, err := s.storage.WriteLocation(r.Context(), doc.Round, chunk, participantID)
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusBadRequest), err.Error())
		return
	}
	s.ok(w, r, &api.WriteLocation{ChunkID: chunkID, ParticipantID: participantID, WriteURL: writeURL})
}

// contribute checks the record signature, promotes the uploaded artifact and
// only then records the contribution.
func (s *Server) contribute(w http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "id")
	participantID := ParticipantFromContext(r.Context())
	l := log.FromContextOrDefault(r.Context())

	signed := new(api.ContributeRequest)
	if err := decodeBody(r, signed); err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.auth.VerifyMessage(signed.Data, signed.Signature, participantID); err != nil {
		s.failOp(w, r, "contribute", fmt.Errorf("%w: %v", ceremony.ErrInvalidSignature, err), http.StatusBadRequest)
		return
	}

	doc, err := s.coordinator.GetCeremony(r.Context())
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusInternalServerError), err.Error())
		return
	}
	chunk, err := doc.Chunk(chunkID)
	if err != nil {
		s.failOp(w, r, "contribute", err, http.StatusBadRequest)
		return
	}
	location, err := s.storage.CopyToPermanent(r.Context(), doc.Round, chunk, participantID)
	if err != nil {
		l.Warnw("copying contribution", "chunk", chunkID, "err", err)
		metrics.Observe("contribute", "rejected")
		s.fail(w, r, http.StatusBadRequest, "Unable to copy contribution")
		return
	}

	if err := s.coordinator.ContributeChunk(r.Context(), chunkID, participantID, location, signed); err != nil {
		s.failOp(w, r, "contribute", err, http.StatusBadRequest)
		return
	}
	s.okOp(w, r, "contribute", &api.ContributeResult{ChunkID: chunkID, Location: location})
}

func (s *Server) attest(w http.ResponseWriter, r *http.Request) {
	participantID := ParticipantFromContext(r.Context())
	a := new(ceremony.Attestation)
	if err := decodeBody(r, a); err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.auth.VerifyMessage([]byte(a.Message), a.Signature, participantID); err != nil {
		s.failOp(w, r, "attest", fmt.Errorf("%w: %v", ceremony.ErrInvalidSignature, err), http.StatusBadRequest)
		return
	}
	added, err := s.coordinator.AddAttestation(r.Context(), *a, participantID)
	if err != nil {
		s.failOp(w, r, "attest", err, http.StatusBadRequest)
		return
	}
	s.okOp(w, r, "attest", &api.AttestResult{Added: added})
}

func (s *Server) shutdownSignal(w http.ResponseWriter, r *http.Request) {
	req := new(api.ShutdownRequest)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, req); err != nil {
			s.fail(w, r, http.StatusBadRequest, fmt.Sprintf("%v: %v", errBadRequest, err))
			return
		}
	}
	signal := true
	if req.Signal != nil {
		signal = *req.Signal
	}
	if err := s.coordinator.SetShutdownSignal(r.Context(), signal); err != nil {
		s.failOp(w, r, "shutdown_signal", err, http.StatusBadRequest)
		return
	}
	s.okOp(w, r, "shutdown_signal", nil)
}

func (s *Server) contributorChunks(w http.ResponseWriter, r *http.Request) {
	view, err := s.coordinator.ContributorChunks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusInternalServerError), err.Error())
		return
	}
	s.ok(w, r, view)
}

func (s *Server) verifierChunks(w http.ResponseWriter, r *http.Request) {
	view, err := s.coordinator.VerifierChunks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusInternalServerError), err.Error())
		return
	}
	s.ok(w, r, view)
}

func (s *Server) chunkInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.coordinator.ChunkInfo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusInternalServerError), err.Error())
		return
	}
	s.ok(w, r, info)
}

// uploadArtifact stores the raw body as the lock holder's scratch artifact.
func (s *Server) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "id")
	participantID := ParticipantFromContext(r.Context())
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid version")
		return
	}
	doc, err := s.coordinator.GetCeremony(r.Context())
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusInternalServerError), err.Error())
		return
	}
	chunk, err := doc.Chunk(chunkID)
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusBadRequest), err.Error())
		return
	}
	if chunk.LockHolder != participantID {
		s.fail(w, r, http.StatusBadRequest, ceremony.ErrNotLockHolder.Error())
		return
	}
	if version != chunk.Version() {
		s.fail(w, r, http.StatusBadRequest, fmt.Sprintf("chunk %s expects version %d", chunkID, chunk.Version()))
		return
	}
	n, err := s.disk.Save(doc.Round, chunkID, version, participantID, r.Body)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.ok(w, r, &api.UploadResult{ChunkID: chunkID, Version: version, Bytes: n})
}

func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	chunkID := chi.URLParam(r, "id")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid version")
		return
	}
	doc, err := s.coordinator.GetCeremony(r.Context())
	if err != nil {
		s.fail(w, r, statusOf(err, http.StatusInternalServerError), err.Error())
		return
	}
	fd, err := s.disk.Open(doc.Round, chunkID, version, chi.URLParam(r, "participant"))
	if errors.Is(err, os.ErrNotExist) {
		s.fail(w, r, http.StatusNotFound, "no such artifact")
		return
	}
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	defer fd.Close()
	stat, err := fd.Stat()
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), fd)
}
