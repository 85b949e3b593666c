package packing

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/kwalsh/dd1750-assistant/internal/ledger"
	"github.com/kwalsh/dd1750-assistant/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		creditor    *ledger.Ledger
		scanner     *mockScanner
		renderer    *mockRenderer
		storage     *mockStorage
		service     *Service
		auth        AdminAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		routes := [][2]string{
			{"GET", "/api/status"},
			{"POST", "/api/documents"},
			{"POST", "/api/extract"},
			{"POST", "/api/generate"},
			{"GET", "/api/download"},
			{"POST", "/api/codes/redeem"},
			{"POST", "/api/session/clear"},
			{"POST", "/api/admin/codes"},
			{"GET", "/api/admin/codes"},
		}
		for _, route := range routes {
			ghttpServer.RouteToHandler(route[0], route[1], server.ServeHTTP)
		}
	}

	// doRequest sends a request pinned to a fixed session identity
	doRequest := func(method, path string, contentType string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "session-abc"})
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeBody := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var out map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return out
	}

	uploadDocument := func() *http.Response {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", "bom.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("fake image data"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())
		return doRequest("POST", "/api/documents", writer.FormDataContentType(), &buf)
	}

	BeforeEach(func() {
		timeSrc := &mockTimeSource{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
		creditor = ledger.NewLedgerWithDeps(ledger.NewMemoryStore(), 3, timeSrc)
		scanner = newMockScanner()
		renderer = newMockRenderer()
		storage = newMockStorage()
		service = NewServiceWithDeps(creditor, scanner, renderer, storage, &mockIDGenerator{id: "test-id-123"}, timeSrc)
		auth = AdminAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleStatus", func() {
		It("should return the free allowance for a fresh session", func() {
			resp := doRequest("GET", "/api/status", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody(resp)
			Expect(body["free_remaining"]).To(BeEquivalentTo(3))
			Expect(body["paid_balance"]).To(BeEquivalentTo(0))
			Expect(body["remaining"]).To(BeEquivalentTo(3))
		})

		It("should mint a session cookie when none is presented", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/status")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			var found bool
			for _, c := range resp.Cookies() {
				if c.Name == sessionCookieName && c.Value != "" {
					found = true
				}
			}
			Expect(found).To(BeTrue())
		})
	})

	Describe("handleUploadDocument", func() {
		It("should stage the document and return its metadata", func() {
			resp := uploadDocument()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			body := decodeBody(resp)
			Expect(body["filename"]).To(Equal("bom.png"))
			Expect(body["pages"]).To(BeEquivalentTo(1))
		})

		It("should reject requests without a file", func() {
			var buf bytes.Buffer
			writer := multipart.NewWriter(&buf)
			Expect(writer.Close()).To(Succeed())

			resp := doRequest("POST", "/api/documents", writer.FormDataContentType(), &buf)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should reject an upload larger than 50MB", func() {
			var buf bytes.Buffer
			writer := multipart.NewWriter(&buf)
			part, err := writer.CreateFormFile("file", "huge.png")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(bytes.Repeat([]byte("x"), 50<<20+1))
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())

			// A recorder keeps the oversized body off the network
			req := httptest.NewRequest("POST", "/api/documents", &buf)
			req.Header.Set("Content-Type", writer.FormDataContentType())
			req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "session-abc"})
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("too large"))
		})
	})

	Describe("handleExtract", func() {
		When("no document is staged", func() {
			It("should return Bad Request", func() {
				resp := doRequest("POST", "/api/extract", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("a document is staged", func() {
			BeforeEach(func() {
				resp := uploadDocument()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
			})

			It("should return the extracted items and remaining balance", func() {
				resp := doRequest("POST", "/api/extract", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				body := decodeBody(resp)
				Expect(body["count"]).To(BeEquivalentTo(2))
				Expect(body["remaining"]).To(BeEquivalentTo(2))
			})

			It("should return Payment Required once the balance is spent", func() {
				for i := 0; i < 3; i++ {
					resp := doRequest("POST", "/api/extract", "", nil)
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
					resp.Body.Close()
				}

				resp := doRequest("POST", "/api/extract", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusPaymentRequired))
				resp.Body.Close()
			})

			It("should return Bad Gateway when the vision service is down", func() {
				scanner.scanErr = scanning.ErrUpstreamUnavailable

				resp := doRequest("POST", "/api/extract", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGenerate", func() {
		It("should render and report the page count", func() {
			payload := `{"header":{"packed_by":"SGT Snuffy","date":"2026-03-01"},"items":[{"description":"WRENCH","qty":2}]}`
			resp := doRequest("POST", "/api/generate", "application/json", bytes.NewBufferString(payload))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody(resp)
			Expect(body["pages"]).To(BeEquivalentTo(1))
		})

		It("should reject malformed JSON", func() {
			resp := doRequest("POST", "/api/generate", "application/json", bytes.NewBufferString("{"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("handleDownload", func() {
		When("nothing has been generated", func() {
			It("should return Bad Request", func() {
				resp := doRequest("GET", "/api/download", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("a packing list was generated", func() {
			BeforeEach(func() {
				payload := `{"header":{"date":"2026-03-01"},"items":[]}`
				resp := doRequest("POST", "/api/generate", "application/json", bytes.NewBufferString(payload))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})

			It("should stream the PDF as an attachment", func() {
				resp := doRequest("GET", "/api/download", "", nil)
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("attachment"))

				data, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(HavePrefix("%PDF"))
			})
		})
	})

	Describe("handleRedeemCode", func() {
		It("should return Bad Request for an unknown code", func() {
			resp := doRequest("POST", "/api/codes/redeem", "application/json", bytes.NewBufferString(`{"code":"AAAA-BBBB-CCCC"}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		When("a valid code exists", func() {
			var code string

			BeforeEach(func() {
				codes, err := service.GenerateAccessCodes(1, 10)
				Expect(err).NotTo(HaveOccurred())
				code = codes[0].Code
			})

			It("should add the credits to the session", func() {
				resp := doRequest("POST", "/api/codes/redeem", "application/json", bytes.NewBufferString(`{"code":"`+code+`"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				body := decodeBody(resp)
				Expect(body["credits_added"]).To(BeEquivalentTo(10))
				Expect(body["remaining"]).To(BeEquivalentTo(13))
			})

			It("should reject a second redemption", func() {
				resp := doRequest("POST", "/api/codes/redeem", "application/json", bytes.NewBufferString(`{"code":"`+code+`"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()

				resp = doRequest("POST", "/api/codes/redeem", "application/json", bytes.NewBufferString(`{"code":"`+code+`"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("admin routes", func() {
		adminRequest := func(user, pass string) *http.Response {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/admin/codes", bytes.NewBufferString(`{"count":2,"credits":5}`))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			if user != "" {
				req.SetBasicAuth(user, pass)
			}
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("no credentials are configured", func() {
			It("should refuse even authenticated requests", func() {
				resp := adminRequest("admin", "secret")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})

		When("credentials are configured", func() {
			BeforeEach(func() {
				auth = AdminAuth{Username: "admin", Password: "secret"}
				setupServer()
			})

			It("should refuse requests without credentials", func() {
				resp := adminRequest("", "")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				resp.Body.Close()
			})

			It("should refuse wrong credentials", func() {
				resp := adminRequest("admin", "wrong")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})

			It("should generate codes for valid credentials", func() {
				resp := adminRequest("admin", "secret")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				body := decodeBody(resp)
				codes, ok := body["codes"].([]any)
				Expect(ok).To(BeTrue())
				Expect(codes).To(HaveLen(2))
				Expect(codes[0]).To(MatchRegexp(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`))
			})

			It("should list generated codes", func() {
				resp := adminRequest("admin", "secret")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()

				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/admin/codes", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "secret")
				listResp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(listResp.StatusCode).To(Equal(http.StatusOK))

				body := decodeBody(listResp)
				Expect(body["total"]).To(BeEquivalentTo(2))
			})
		})
	})

	Describe("handleClearSession", func() {
		BeforeEach(func() {
			resp := uploadDocument()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()
		})

		It("should drop the staged document", func() {
			resp := doRequest("POST", "/api/session/clear", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			extractResp := doRequest("POST", "/api/extract", "", nil)
			Expect(extractResp.StatusCode).To(Equal(http.StatusBadRequest))
			extractResp.Body.Close()
		})
	})
})
