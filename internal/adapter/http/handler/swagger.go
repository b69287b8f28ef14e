package handler

import (
	"net/http"

	"rfid-wallet-ledger/pkg/apperror"
	"rfid-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>RFID Wallet Ledger - API Docs</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: '/swagger/spec', dom_id: '#swagger-ui' });
  </script>
</body>
</html>`

// apiDocs serves the ledger's OpenAPI document and a Swagger UI page for it.
type apiDocs struct {
	openapi []byte
}

func newAPIDocs(openapi []byte) *apiDocs {
	return &apiDocs{openapi: openapi}
}

func (d *apiDocs) spec(c *gin.Context) {
	if len(d.openapi) == 0 {
		response.Error(c, apperror.ErrNotFound("API docs"))
		return
	}
	c.Data(http.StatusOK, "application/yaml", d.openapi)
}

func (d *apiDocs) page(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(docsPage))
}
