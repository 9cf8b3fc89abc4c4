package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/AtomNotShy/tbbid-scrapy/internal/config"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Send 发送抓取汇总邮件。配置不完整时跳过并记录日志，不算错误。
func (n *EmailNotifier) Send(ctx context.Context, summary *CrawlSummary, toEmail string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[tbbid] 抓取入库日报")
	m.SetBody("text/html", n.buildHTMLBody(summary))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email notification sent", slog.String("to", toEmail))
	return nil
}

func (n *EmailNotifier) buildHTMLBody(s *CrawlSummary) string {
	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  table { width: 100%%; border-collapse: collapse; }
  td { padding: 6px 4px; border-bottom: 1px solid #e5e7eb; }
  td.num { text-align: right; font-weight: bold; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[tbbid] 抓取入库日报</div>
    <div class="content">
      <table>
        <tr><td>处理 item 总数</td><td class="num">%d</td></tr>
        <tr><td>入库成功</td><td class="num">%d</td></tr>
        <tr><td>字段缺失拒绝</td><td class="num">%d</td></tr>
        <tr><td>等待项目补全</td><td class="num">%d</td></tr>
        <tr><td>失败</td><td class="num">%d</td></tr>
        <tr><td>新增项目</td><td class="num">%d</td></tr>
        <tr><td>待解析 item 剩余</td><td class="num">%d</td></tr>
      </table>
      <div class="footer">时间窗口: %s ~ %s</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template,
		s.Processed, s.Succeeded, s.Rejected, s.Deferred, s.Failed,
		s.NewProjects, s.PendingLeft, s.StartedAt, s.FinishedAt)
}
